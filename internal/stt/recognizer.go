package stt

import "context"

// TranscriptResult captures recognizer output for one utterance.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends. The audio is a complete pause-delimited
// utterance; backends transcribe it in one shot.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (TranscriptResult, error)
}
