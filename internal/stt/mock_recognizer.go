package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, pcm []byte, _, _ int) (TranscriptResult, error) {
	return TranscriptResult{
		Text: fmt.Sprintf("[utterance length=%d]", len(pcm)),
	}, nil
}
