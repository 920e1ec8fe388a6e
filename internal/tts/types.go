package tts

import "context"

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
	Language  string
}

// SynthChunk contains one unit of PCM audio. Chunks for a request are
// produced in playback order.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio. Implementations run the
// backend in their own goroutine, send chunks in order, send at most one
// error, and close both channels when the backend returns.
//
// Cancellation of ctx means the consumer is gone: implementations must stop
// sending promptly (a blocked send must select on ctx.Done), discard any
// remaining output, and still let the backend finish on its own.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}
