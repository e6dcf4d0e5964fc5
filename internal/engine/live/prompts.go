package live

import (
	"fmt"

	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
)

const jsonOnly = "Respond with ONLY valid JSON: no markdown, no code fences, no prose."

// instruction returns the system prompt for a stage attempt.
func instruction(brand, stage string, attempt pipeline.Attempt) string {
	switch stage {
	case pipeline.StageResearcher:
		return fmt.Sprintf("You are the %s researcher. Stay strictly on the topic you are given.\n"+
			"Synthesize facts and key stats ONLY from the evidence below, which was gathered by search and fetch tools.\n"+
			"%s Output {\"research\": {\"topics\": [], \"key_stats\": [{\"label\": \"...\", \"value\": \"...\", \"source\": \"...\"}], \"citations\": [{\"title\": \"...\", \"url\": \"...\"}]}}.\n"+
			"Provide at least 3 citations taken from the evidence URLs.", brand, jsonOnly)

	case pipeline.StageScriptwriter:
		switch attempt {
		case pipeline.AttemptRepairSchema:
			return fmt.Sprintf("Your previous output did not satisfy the schema. Using research.topics and research.key_stats, %s\n"+
				"Output exactly {\"script\": {\"beats\": [5-8 strings], \"draft\": \"400-700 words\", \"summary\": \"at most 60 words\"}}.",
				lowerFirst(jsonOnly))
		case pipeline.AttemptRepairOnTopic:
			return "You must write ONLY JSON as {\"script\": {\"beats\": [], \"draft\": \"...\", \"summary\": \"...\"}}.\n" +
				"Stay strictly on the topic. Use at least 3 phrases from research.topics and reflect key_stats where natural.\n" +
				"Do not mention unrelated domains such as sports teams."
		}
		return fmt.Sprintf("You are the %s scriptwriter. Use research.topics and research.key_stats to write a narrative in the %s voice.\n"+
			"%s\n"+
			"- beats: 5-8 short strings capturing the narrative beats\n"+
			"- draft: one string of 400-700 words\n"+
			"- summary: one string of at most 60 words\n"+
			"Output the object as {\"script\": {...}}. Stay strictly on the topic and do not mention unrelated domains.", brand, brand, jsonOnly)

	case pipeline.StageThumbnails:
		return "Read script.summary. Output JSON under \"thumbnail_prompts\" as an array of exactly 3 Afrofuturist-style image prompts. " + jsonOnly

	case pipeline.StageCaptioner:
		if attempt == pipeline.AttemptRepairCaptions {
			return "Respond with ONLY JSON under \"captions\" containing non-empty arrays: at least 2 youtube, 2 tiktok and 2 instagram items, and at least 8 hashtags.\n" +
				"Each item must clearly refer to the topic and reflect script.summary. Avoid generic filler."
		}
		return "Read script.summary and the topic. Output ONLY JSON under \"captions\" with keys youtube[], tiktok[], instagram[], hashtags[].\n" +
			"Stay on the topic. Provide at least 2 items for youtube, tiktok and instagram, and at least 8 hashtags."

	case pipeline.StageVoiceover:
		if attempt == pipeline.AttemptRepairOnTopic {
			return "Respond with ONLY JSON as {\"voiceover\": {\"text\": \"...\"}}.\n" +
				"Stay strictly on the topic and reference at least 2 phrases from research.topics in natural language."
		}
		return "Read script.draft and the topic. Output ONLY JSON under \"voiceover\" with key \"text\" holding finished, on-topic narration.\n" +
			"Reflect at least 2 ideas from research.topics."

	case pipeline.StageNewsletter:
		return "Read the script and the research. Output ONLY JSON under \"newsletter\" with keys \"body\" and \"subject_lines\" (exactly 3 strings)."
	}
	return jsonOnly
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
