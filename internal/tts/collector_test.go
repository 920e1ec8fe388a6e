package tts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedSynth replays a fixed chunk schedule, optionally failing at the
// end. The chunk channel is buffered so the goroutine always finishes even
// when the collector walks away.
type scriptedSynth struct {
	steps []scriptStep
	err   error
}

type scriptStep struct {
	delay time.Duration
	pcm   []byte
}

func (s *scriptedSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, len(s.steps))
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for i, step := range s.steps {
			time.Sleep(step.delay)
			chunks <- SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   i,
				SampleRate: 16000,
				Channels:   1,
				PCM:        step.pcm,
				Final:      s.err == nil && i == len(s.steps)-1,
			}
		}
		if s.err != nil {
			errs <- s.err
		}
	}()
	return chunks, errs
}

func collect(t *testing.T, synth Synthesizer, first, overall time.Duration, text string) (Stats, [][]byte, error) {
	t.Helper()
	c, err := NewCollector(synth, first, overall, newLogger())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	var got [][]byte
	stats, err := c.Collect(context.Background(), SynthRequest{SessionID: "s1", Text: text}, func(chunk SynthChunk) error {
		got = append(got, chunk.PCM)
		return nil
	})
	return stats, got, err
}

func TestCollectDeliversAllChunksInOrder(t *testing.T) {
	want := [][]byte{[]byte("A"), []byte("B"), []byte("C")}
	synth := &scriptedSynth{steps: []scriptStep{
		{10 * time.Millisecond, want[0]},
		{10 * time.Millisecond, want[1]},
		{10 * time.Millisecond, want[2]},
	}}

	stats, got, err := collect(t, synth, 500*time.Millisecond, time.Second, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", stats.Outcome)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(got))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("chunk %d altered: got %q want %q", i, got[i], want[i])
		}
	}
	if stats.Chunks != 3 || stats.Bytes != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCollectZeroChunkFailureRaisesSynthesisError(t *testing.T) {
	synth := &scriptedSynth{err: errors.New("engine crashed")}

	stats, got, err := collect(t, synth, 100*time.Millisecond, time.Second, "hello")
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected *SynthesisError, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("no chunk may be delivered on zero-output failure, got %d", len(got))
	}
	if stats.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", stats.Outcome)
	}
}

func TestCollectTruncatesSlowProducer(t *testing.T) {
	synth := &scriptedSynth{steps: []scriptStep{
		{10 * time.Millisecond, []byte("A")},
		{10 * time.Second, []byte("B")},
	}}

	stats, got, err := collect(t, synth, 100*time.Millisecond, 200*time.Millisecond, "hello")
	if err != nil {
		t.Fatalf("truncation must not be an error, got %v", err)
	}
	if stats.Outcome != OutcomeTimedOut {
		t.Fatalf("expected timed_out, got %s", stats.Outcome)
	}
	if len(got) != 1 || !bytes.Equal(got[0], []byte("A")) {
		t.Fatalf("expected only the pre-deadline chunk, got %q", got)
	}
}

func TestCollectLateFirstChunkStillDelivered(t *testing.T) {
	synth := &scriptedSynth{steps: []scriptStep{
		{150 * time.Millisecond, []byte("A")},
		{10 * time.Millisecond, []byte("B")},
	}}

	// First chunk arrives after the advisory deadline but well before the
	// overall one; nothing may be lost.
	stats, got, err := collect(t, synth, 50*time.Millisecond, time.Second, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", stats.Outcome)
	}
	if len(got) != 2 {
		t.Fatalf("expected both chunks, got %d", len(got))
	}
	if stats.FirstChunkLatency < 100*time.Millisecond {
		t.Fatalf("first chunk latency implausibly low: %s", stats.FirstChunkLatency)
	}
}

func TestCollectMidStreamFailureIsPartial(t *testing.T) {
	synth := &scriptedSynth{
		steps: []scriptStep{{10 * time.Millisecond, []byte("A")}},
		err:   errors.New("engine crashed"),
	}

	stats, got, err := collect(t, synth, 100*time.Millisecond, time.Second, "hello")
	var partial *PartialSynthesisError
	if !errors.As(err, &partial) {
		t.Fatalf("expected *PartialSynthesisError, got %v", err)
	}
	if partial.Delivered != 1 || len(got) != 1 {
		t.Fatalf("expected one delivered chunk, got %d/%d", partial.Delivered, len(got))
	}
	if stats.Outcome != OutcomePartial {
		t.Fatalf("expected partial outcome, got %s", stats.Outcome)
	}
}

// unbufferedSynth emits forever on an unbuffered channel, honoring the
// synthesis context the way real backends must. exited reports that the
// producer goroutine finished.
type unbufferedSynth struct {
	interval time.Duration
	exited   chan struct{}
}

func (s *unbufferedSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(s.exited)
		defer close(chunks)
		defer close(errs)
		for i := 0; ; i++ {
			time.Sleep(s.interval)
			select {
			case chunks <- SynthChunk{Sequence: i, SampleRate: 16000, Channels: 1, PCM: []byte{byte(i)}}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, errs
}

func TestCollectAbandonedUnbufferedProducerTerminates(t *testing.T) {
	synth := &unbufferedSynth{interval: 20 * time.Millisecond, exited: make(chan struct{})}
	c, err := NewCollector(synth, 100*time.Millisecond, 150*time.Millisecond, newLogger())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	var got int
	stats, err := c.Collect(context.Background(), SynthRequest{SessionID: "s1", Text: "hola"}, func(SynthChunk) error {
		got++
		return nil
	})
	if err != nil {
		t.Fatalf("truncation must not be an error, got %v", err)
	}
	if stats.Outcome != OutcomeTimedOut {
		t.Fatalf("expected timed_out, got %s", stats.Outcome)
	}
	if got == 0 {
		t.Fatal("expected pre-deadline chunks to be delivered")
	}

	// The producer keeps pushing past the deadline; it must notice the
	// consumer is gone and wind down instead of blocking on a send.
	select {
	case <-synth.exited:
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned producer never terminated")
	}
}

func TestCollectConsumerErrorDuringFailureDrain(t *testing.T) {
	// Chunk and error are both already queued; whichever select branch wins,
	// the consumer failure must surface instead of being swallowed.
	chunks := make(chan SynthChunk, 1)
	chunks <- SynthChunk{PCM: []byte("A")}
	close(chunks)
	errs := make(chan error, 1)
	errs <- errors.New("engine crashed")
	close(errs)
	synth := &prequeuedSynth{chunks: chunks, errs: errs}

	c, err := NewCollector(synth, time.Second, time.Second, newLogger())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	sentinel := errors.New("bus unavailable")
	_, err = c.Collect(context.Background(), SynthRequest{Text: "hi"}, func(SynthChunk) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected consumer error to surface, got %v", err)
	}
}

type prequeuedSynth struct {
	chunks chan SynthChunk
	errs   chan error
}

func (s *prequeuedSynth) Synthesize(context.Context, SynthRequest) (<-chan SynthChunk, <-chan error) {
	return s.chunks, s.errs
}

func TestCollectRejectsEmptyText(t *testing.T) {
	c, err := NewCollector(&scriptedSynth{}, time.Second, time.Second, newLogger())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	if _, err := c.Collect(context.Background(), SynthRequest{Text: "  "}, func(SynthChunk) error { return nil }); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestCollectPropagatesConsumerError(t *testing.T) {
	synth := &scriptedSynth{steps: []scriptStep{{time.Millisecond, []byte("A")}}}
	c, err := NewCollector(synth, time.Second, time.Second, newLogger())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	sentinel := errors.New("bus unavailable")
	_, err = c.Collect(context.Background(), SynthRequest{Text: "hi"}, func(SynthChunk) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected consumer error to propagate, got %v", err)
	}
}

func TestCollectHonorsCallerCancellation(t *testing.T) {
	synth := &scriptedSynth{steps: []scriptStep{{10 * time.Second, []byte("A")}}}
	c, err := NewCollector(synth, time.Minute, time.Minute, newLogger())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	stats, err := c.Collect(ctx, SynthRequest{Text: "hi"}, func(SynthChunk) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stats.Chunks != 0 {
		t.Fatalf("expected no chunks, got %d", stats.Chunks)
	}
}

func TestNewCollectorValidatesDeadlines(t *testing.T) {
	if _, err := NewCollector(&scriptedSynth{}, 0, time.Second, newLogger()); err == nil {
		t.Fatal("expected error for zero first-chunk timeout")
	}
	if _, err := NewCollector(&scriptedSynth{}, 2*time.Second, time.Second, newLogger()); err == nil {
		t.Fatal("expected error for overall below first-chunk timeout")
	}
}
