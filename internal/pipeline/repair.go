package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Heuristic names recorded in meta.repairs.
const (
	HeuristicEmptyScript = "empty_script"
	HeuristicOffTopic    = "off_topic"
	HeuristicCaptions    = "captions_incomplete"
)

// DefaultBlacklist holds terms that mark a text as drifting to an unrelated
// subject unless the topic itself mentions them.
var DefaultBlacklist = []string{
	"celtics", "heat", "nba", "playoffs", "season",
	"fenway", "patriots", "bruins", "redsox", "boston",
}

// RepairPolicy configures the semantic checks that trigger a repair run.
type RepairPolicy struct {
	Blacklist []string
}

// DefaultRepairPolicy uses DefaultBlacklist.
func DefaultRepairPolicy() RepairPolicy {
	return RepairPolicy{Blacklist: DefaultBlacklist}
}

// ScriptIsEmpty reports whether a script value is too thin to accept.
func ScriptIsEmpty(script any) bool {
	m, ok := script.(map[string]any)
	if !ok {
		return true
	}
	beats, ok := m["beats"].([]any)
	if !ok || len(beats) < 3 {
		return true
	}
	if len(strings.TrimSpace(StringField(m, "draft"))) < 100 {
		return true
	}
	return len(strings.TrimSpace(StringField(m, "summary"))) < 10
}

// CaptionsIncomplete reports whether any platform list or the hashtag list is
// missing or empty.
func CaptionsIncomplete(captions any) bool {
	m, ok := captions.(map[string]any)
	if !ok {
		return true
	}
	for _, k := range []string{"youtube", "tiktok", "instagram", "hashtags"} {
		list, ok := m[k].([]any)
		if !ok || len(list) == 0 {
			return true
		}
	}
	return false
}

// Keywords builds the topic keyword set: tokens of at least five characters
// from research.topics plus tokens of at least four characters from topic.
func Keywords(research any, topic string) map[string]struct{} {
	out := make(map[string]struct{})
	if m, ok := research.(map[string]any); ok {
		for _, t := range Strings(m["topics"]) {
			for _, tok := range tokens(t) {
				if utf8.RuneCountInString(tok) >= 5 {
					out[tok] = struct{}{}
				}
			}
		}
	}
	for _, tok := range tokens(topic) {
		if utf8.RuneCountInString(tok) >= 4 {
			out[tok] = struct{}{}
		}
	}
	return out
}

// OffTopic reports whether text has drifted away from the topic. Empty text
// is off-topic and a blank topic abstains. Text sharing a keyword with the
// topic is on-topic, unless the only shared keywords are blacklisted terms.
// Otherwise a blacklisted word flags the text when the topic names none, and
// text without any keyword is off-topic. With no keywords the check abstains.
func (p RepairPolicy) OffTopic(text string, research any, topic string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return true
	}
	if strings.TrimSpace(topic) == "" {
		return false
	}
	blacklist := make(map[string]struct{}, len(p.Blacklist))
	for _, t := range p.Blacklist {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			blacklist[t] = struct{}{}
		}
	}

	topicListed := hasWord(tokens(topic), blacklist)

	keywords := Keywords(research, topic)
	for k := range keywords {
		if _, listed := blacklist[k]; listed && !topicListed {
			continue
		}
		if strings.Contains(lower, k) {
			return false
		}
	}
	if !topicListed && hasWord(tokens(lower), blacklist) {
		return true
	}
	return len(keywords) > 0
}

// hasWord reports whether any token is a member of set. Whole tokens only,
// so "wheat" does not match "heat".
func hasWord(toks []string, set map[string]struct{}) bool {
	for _, t := range toks {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func tokens(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, f)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
