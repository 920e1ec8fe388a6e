package tts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/charla-io/charla/internal/bus"
	"github.com/charla-io/charla/internal/config"
	"github.com/charla-io/charla/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Service turns tts.request messages into bounded streams of tts.audio
// chunks, substituting the fallback tone when the backend produces nothing.
type Service struct {
	cfg       config.TTSConfig
	bus       *bus.Client
	collector *Collector
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger

	outcomes   metric.Int64Counter
	firstChunk metric.Float64Histogram
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synth Synthesizer, log *slog.Logger) (*Service, error) {
	logger := log.With(slog.String("component", "tts-service"))
	collector, err := NewCollector(synth,
		time.Duration(cfg.FirstChunkTimeoutMS)*time.Millisecond,
		time.Duration(cfg.OverallTimeoutMS)*time.Millisecond,
		log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:       cfg,
		bus:       busClient,
		collector: collector,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	meter := otel.Meter("github.com/charla-io/charla/tts")
	var err error
	s.outcomes, err = meter.Int64Counter("charla.tts.synthesis",
		metric.WithDescription("Synthesis runs by terminal outcome"))
	if err != nil {
		s.logger.Warn("failed to create synthesis counter", slogError(err))
	}
	s.firstChunk, err = meter.Float64Histogram("charla.tts.first_chunk_seconds",
		metric.WithDescription("Latency until the first synthesized chunk"))
	if err != nil {
		s.logger.Warn("failed to create first chunk histogram", slogError(err))
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.speak(req)
	}()
}

func (s *Service) speak(req protocol.TTSRequest) {
	sequence := 0
	stats, err := s.collector.Collect(s.ctx, SynthRequest{
		SessionID: req.SessionID,
		Text:      req.Text,
		Voice:     req.Voice,
		Language:  req.Language,
	}, func(chunk SynthChunk) error {
		chunk.Sequence = sequence
		sequence++
		return s.publishChunk(req, chunk)
	})

	status := protocol.TTSStatus{
		SessionID: req.SessionID,
		Target:    req.Target,
		Chunks:    stats.Chunks,
		Timestamp: time.Now().UTC(),
	}

	var synthErr *SynthesisError
	var partialErr *PartialSynthesisError
	switch {
	case err == nil && stats.Outcome == OutcomeCompleted:
		status.Completed = true
		s.logger.Info("synthesis complete",
			slog.String("session_id", req.SessionID),
			slog.Int("chunks", stats.Chunks),
			slog.Duration("elapsed", stats.Elapsed))

	case err == nil && stats.Outcome == OutcomeTimedOut:
		status.Truncated = true

	case errors.As(err, &synthErr):
		s.logger.Error("synthesis failed, substituting fallback tone",
			slog.String("session_id", req.SessionID), slogError(err))
		if s.publishFallback(req) == nil {
			status.Fallback = true
			status.Chunks = 1
		}

	case errors.As(err, &partialErr):
		s.logger.Warn("synthesis died mid-stream, keeping delivered audio",
			slog.String("session_id", req.SessionID),
			slog.Int("delivered", partialErr.Delivered), slogError(err))
		status.Truncated = true

	default:
		s.logger.Warn("synthesis aborted", slog.String("session_id", req.SessionID), slogError(err))
	}

	s.recordStats(stats)
	if data, err := json.Marshal(status); err == nil {
		_ = s.bus.Conn().Publish(protocol.SubjectTTSDone, data)
	}
}

func (s *Service) publishChunk(req protocol.TTSRequest, chunk SynthChunk) error {
	packet := protocol.AudioChunk{
		SessionID:  req.SessionID,
		Target:     req.Target,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Sequence:   chunk.Sequence,
		PCM:        chunk.PCM,
		Final:      chunk.Final,
	}
	data, err := json.Marshal(packet)
	if err != nil {
		return err
	}
	return s.bus.Conn().Publish(protocol.SubjectTTSAudio, data)
}

func (s *Service) publishFallback(req protocol.TTSRequest) error {
	tone := FallbackTone(s.cfg.SampleRate, float64(s.cfg.FallbackToneHz),
		time.Duration(s.cfg.FallbackToneMS)*time.Millisecond)
	return s.publishChunk(req, SynthChunk{
		SessionID:  req.SessionID,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		PCM:        tone,
		Final:      true,
	})
}

func (s *Service) recordStats(stats Stats) {
	attrs := metric.WithAttributes(attribute.String("outcome", stats.Outcome.String()))
	if s.outcomes != nil {
		s.outcomes.Add(s.ctx, 1, attrs)
	}
	if s.firstChunk != nil && stats.Chunks > 0 {
		s.firstChunk.Record(s.ctx, stats.FirstChunkLatency.Seconds())
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
