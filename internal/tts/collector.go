package tts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Outcome classifies how one collection run ended.
type Outcome int

const (
	// OutcomeCompleted means the backend finished and every chunk was
	// handed to the consumer.
	OutcomeCompleted Outcome = iota
	// OutcomeTimedOut means the overall deadline elapsed first; chunks
	// delivered up to that point were handed over, the rest are dropped.
	OutcomeTimedOut
	// OutcomePartial means the backend failed after producing some audio.
	OutcomePartial
	// OutcomeFailed means the backend failed before producing any audio.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomePartial:
		return "partial"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SynthesisError reports a backend failure before any audio was produced.
// Callers substitute the fallback tone on this error.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return "synthesis failed before producing audio: " + e.Err.Error()
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// PartialSynthesisError reports a backend failure after Delivered chunks
// were already handed to the consumer. The delivered audio remains valid;
// callers typically log this and keep it.
type PartialSynthesisError struct {
	Delivered int
	Err       error
}

func (e *PartialSynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed after %d chunks: %s", e.Delivered, e.Err.Error())
}

func (e *PartialSynthesisError) Unwrap() error { return e.Err }

// Stats summarizes one collection run.
type Stats struct {
	Chunks            int
	Bytes             int
	FirstChunkLatency time.Duration
	Elapsed           time.Duration
	Outcome           Outcome
}

// Collector bounds a single Synthesize call with two deadlines: a soft
// first-chunk deadline that only logs a slow-start warning, and a hard
// overall deadline that truncates consumption.
//
// The backend is never force-cancelled. On the overall deadline the
// collector drains whatever is already buffered, cancels the synthesis
// context to signal that nothing will read further chunks, and walks away;
// implementations stop delivering on that signal, discard late output, and
// run the backend to completion.
type Collector struct {
	synth             Synthesizer
	firstChunkTimeout time.Duration
	overallTimeout    time.Duration
	log               *slog.Logger
}

func NewCollector(synth Synthesizer, firstChunkTimeout, overallTimeout time.Duration, log *slog.Logger) (*Collector, error) {
	if firstChunkTimeout <= 0 {
		return nil, fmt.Errorf("first chunk timeout must be positive, got %s", firstChunkTimeout)
	}
	if overallTimeout < firstChunkTimeout {
		return nil, fmt.Errorf("overall timeout %s must not be below first chunk timeout %s", overallTimeout, firstChunkTimeout)
	}
	return &Collector{
		synth:             synth,
		firstChunkTimeout: firstChunkTimeout,
		overallTimeout:    overallTimeout,
		log:               log.With(slog.String("component", "tts-collector")),
	}, nil
}

// Collect runs one synthesis call and feeds each chunk, in production order,
// to consume. It returns when the backend completes, the overall deadline
// elapses, the backend fails, or consume returns an error.
//
// A zero-output failure returns *SynthesisError; a mid-stream failure
// returns *PartialSynthesisError with the already-consumed chunks counted in
// Stats. An elapsed overall deadline is not an error.
func (c *Collector) Collect(ctx context.Context, req SynthRequest, consume func(SynthChunk) error) (Stats, error) {
	var stats Stats
	if strings.TrimSpace(req.Text) == "" {
		return stats, fmt.Errorf("nothing to synthesize: empty text")
	}

	start := time.Now()
	deadline := time.NewTimer(c.overallTimeout)
	defer deadline.Stop()
	slowStart := time.NewTimer(c.firstChunkTimeout)
	defer slowStart.Stop()

	// The backend deliberately outlives ctx cancellation; the synthesis
	// context is cancelled only when this call returns, telling the
	// producer its consumer is gone. See type doc.
	synthCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()
	chunks, errs := c.synth.Synthesize(synthCtx, req)

	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if stats.Chunks == 0 {
				stats.FirstChunkLatency = time.Since(start)
				slowStart.Stop()
			}
			if err := consume(chunk); err != nil {
				stats.Elapsed = time.Since(start)
				return stats, fmt.Errorf("deliver chunk %d: %w", stats.Chunks, err)
			}
			stats.Chunks++
			stats.Bytes += len(chunk.PCM)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			// Chunks queued before the failure surfaced still count as
			// produced output.
			if derr := c.drainBuffered(chunks, consume, &stats, start); derr != nil {
				stats.Elapsed = time.Since(start)
				return stats, derr
			}
			stats.Elapsed = time.Since(start)
			if stats.Chunks == 0 {
				stats.Outcome = OutcomeFailed
				return stats, &SynthesisError{Err: err}
			}
			stats.Outcome = OutcomePartial
			return stats, &PartialSynthesisError{Delivered: stats.Chunks, Err: err}

		case <-slowStart.C:
			if stats.Chunks == 0 {
				c.log.Warn("no synthesis audio yet, still waiting",
					slog.String("session_id", req.SessionID),
					slog.Duration("waited", c.firstChunkTimeout))
			}

		case <-deadline.C:
			if derr := c.drainBuffered(chunks, consume, &stats, start); derr != nil {
				stats.Elapsed = time.Since(start)
				return stats, derr
			}
			stats.Elapsed = time.Since(start)
			stats.Outcome = OutcomeTimedOut
			c.log.Warn("synthesis deadline elapsed, response truncated",
				slog.String("session_id", req.SessionID),
				slog.Int("chunks", stats.Chunks),
				slog.Duration("deadline", c.overallTimeout))
			return stats, nil

		case <-ctx.Done():
			if derr := c.drainBuffered(chunks, consume, &stats, start); derr != nil {
				stats.Elapsed = time.Since(start)
				return stats, derr
			}
			stats.Elapsed = time.Since(start)
			stats.Outcome = OutcomeTimedOut
			return stats, ctx.Err()
		}
	}

	stats.Elapsed = time.Since(start)
	stats.Outcome = OutcomeCompleted
	return stats, nil
}

// drainBuffered hands over chunks the backend already queued without
// waiting for more. A consume failure is reported like in the main loop.
func (c *Collector) drainBuffered(chunks <-chan SynthChunk, consume func(SynthChunk) error, stats *Stats, start time.Time) error {
	if chunks == nil {
		return nil
	}
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			if stats.Chunks == 0 {
				stats.FirstChunkLatency = time.Since(start)
			}
			if err := consume(chunk); err != nil {
				return fmt.Errorf("deliver chunk %d: %w", stats.Chunks, err)
			}
			stats.Chunks++
			stats.Bytes += len(chunk.PCM)
		default:
			return nil
		}
	}
}
