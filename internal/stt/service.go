package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/charla-io/charla/internal/bus"
	"github.com/charla-io/charla/internal/config"
	"github.com/charla-io/charla/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service accumulates audio frames per session and transcribes the utterance
// once its final frame arrives. Interim results are not produced: the voice
// loop replies to whole utterances.
type Service struct {
	cfg        config.STTConfig
	language   string
	bus        *bus.Client
	recognizer Recognizer
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*utterance

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	wg     sync.WaitGroup
}

type utterance struct {
	buffer   []byte
	inflight bool
}

func NewService(parent context.Context, cfg config.STTConfig, language string, busClient *bus.Client, recognizer Recognizer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		language:   language,
		bus:        busClient,
		recognizer: recognizer,
		logger:     log.With(slog.String("component", "stt-service")),
		sessions:   make(map[string]*utterance),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
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

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.sub != nil
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slogError(err))
		return
	}

	s.mu.Lock()
	state := s.sessions[frame.SessionID]
	if state == nil {
		state = &utterance{}
		s.sessions[frame.SessionID] = state
	}
	state.buffer = append(state.buffer, frame.PCM...)
	var pcm []byte
	launch := frame.Final && !state.inflight
	if launch {
		// Hand the utterance off and start the next one clean; frames
		// arriving during transcription accumulate for the next final.
		pcm = state.buffer
		state.buffer = nil
		state.inflight = true
	}
	s.mu.Unlock()

	if frame.Final && !launch {
		s.logger.Warn("utterance deferred, previous transcription still running",
			slog.String("session_id", frame.SessionID))
		return
	}
	if launch {
		s.transcribe(frame.SessionID, pcm)
	}
}

func (s *Service) transcribe(sessionID string, pcm []byte) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
		defer cancel()

		start := time.Now()
		result, err := s.recognizer.Transcribe(ctx, pcm, s.cfg.SampleRate, s.cfg.Channels)

		s.mu.Lock()
		if state := s.sessions[sessionID]; state != nil {
			state.inflight = false
			if len(state.buffer) == 0 {
				delete(s.sessions, sessionID)
			}
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("transcription failed", slog.String("session_id", sessionID), slogError(err))
			return
		}
		s.logger.Info("utterance transcribed",
			slog.String("session_id", sessionID),
			slog.Int("pcm_bytes", len(pcm)),
			slog.Duration("latency", time.Since(start)))
		s.publishTranscript(sessionID, result)
	}()
}

func (s *Service) publishTranscript(sessionID string, result TranscriptResult) {
	if result.Text == "" {
		return
	}
	msg := protocol.Transcript{
		SessionID:  sessionID,
		Text:       result.Text,
		Language:   s.language,
		Confidence: result.Confidence,
		Timestamp:  time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTranscriptFinal, data); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
