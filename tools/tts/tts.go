// Package tts synthesises voiceover audio.
package tts

import (
	"context"
	"fmt"
	"strings"
)

// Synthesizer turns text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// ElevenLabsStub stands in for the ElevenLabs API and returns a readable
// payload instead of audio.
type ElevenLabsStub struct{}

func (ElevenLabsStub) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(voiceID) == "" {
		voiceID = "default"
	}
	return []byte(fmt.Sprintf("VOICE:%s\n%s", voiceID, text)), nil
}
