package stt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/charla-io/charla/internal/config"
	"github.com/charla-io/charla/internal/protocol"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// gatedRecognizer blocks each call until released and records the audio it
// was handed. It fails the transcription so no transcript gets published.
type gatedRecognizer struct {
	calls   chan []byte
	release chan struct{}
}

func (r *gatedRecognizer) Transcribe(_ context.Context, pcm []byte, _, _ int) (TranscriptResult, error) {
	r.calls <- pcm
	<-r.release
	return TranscriptResult{}, errors.New("no model loaded")
}

func frameMsg(t *testing.T, sessionID string, pcm []byte, final bool) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(protocol.AudioFrame{SessionID: sessionID, PCM: pcm, Final: final})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return &nats.Msg{Data: data}
}

func TestServiceKeepsFramesArrivingDuringTranscription(t *testing.T) {
	rec := &gatedRecognizer{calls: make(chan []byte, 2), release: make(chan struct{})}
	cfg := config.STTConfig{Enabled: true, Mode: "mock", SampleRate: 16000, Channels: 1}
	s := NewService(context.Background(), cfg, "english", nil, rec, newLogger())
	defer s.Close()

	s.handleFrame(frameMsg(t, "s1", []byte("AAAA"), false))
	s.handleFrame(frameMsg(t, "s1", nil, true))

	var first []byte
	select {
	case first = <-rec.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("transcription never launched")
	}
	if string(first) != "AAAA" {
		t.Fatalf("unexpected first utterance: %q", first)
	}

	// The next utterance starts while the first transcription is running;
	// its final is deferred but its audio must not be lost.
	s.handleFrame(frameMsg(t, "s1", []byte("BBBB"), false))
	s.handleFrame(frameMsg(t, "s1", nil, true))

	rec.release <- struct{}{}
	waitIdle(t, s, "s1")

	s.handleFrame(frameMsg(t, "s1", nil, true))
	select {
	case second := <-rec.calls:
		if string(second) != "BBBB" {
			t.Fatalf("frames arriving during transcription were lost: %q", second)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second transcription never launched")
	}
	rec.release <- struct{}{}
}

func waitIdle(t *testing.T, s *Service, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		state := s.sessions[sessionID]
		idle := state == nil || !state.inflight
		s.mu.Unlock()
		if idle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("transcription never finished")
}
