package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/charla-io/charla/internal/bus"
	"github.com/charla-io/charla/internal/config"
	"github.com/charla-io/charla/internal/eventstore"
	"github.com/charla-io/charla/internal/locale"
	"github.com/charla-io/charla/internal/presence"
	"github.com/charla-io/charla/internal/protocol"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DeviceDirectory is the presence surface the router uses to pick a playback
// target.
type DeviceDirectory interface {
	Query(filter func(presence.DeviceInfo) bool) []presence.DeviceInfo
}

// Service chains the pipeline stages: a final transcript becomes an LLM
// request, the final LLM reply becomes a TTS request, and each step lands in
// the conversation timeline.
type Service struct {
	cfg     config.RouterConfig
	profile locale.Profile
	bus     *bus.Client
	store   *eventstore.Store
	devices DeviceDirectory
	logger  *slog.Logger

	subTranscripts *nats.Subscription
	subLLM         *nats.Subscription
	subTTSDone     *nats.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*conversation
}

type conversation struct {
	traceID string
	prompt  string
}

func NewService(parent context.Context, cfg config.RouterConfig, profile locale.Profile, busClient *bus.Client, store *eventstore.Store, devices DeviceDirectory, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		profile:  profile,
		bus:      busClient,
		store:    store,
		devices:  devices,
		logger:   logger.With(slog.String("component", "router")),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*conversation),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptFinal, s.handleTranscript)
	if err != nil {
		return err
	}
	s.subTranscripts = sub

	subLLM, err := s.bus.Conn().Subscribe(protocol.SubjectLLMResponseFinal, s.handleLLMResponse)
	if err != nil {
		s.subTranscripts.Drain()
		return err
	}
	s.subLLM = subLLM

	subDone, err := s.bus.Conn().Subscribe(protocol.SubjectTTSDone, s.handleTTSDone)
	if err != nil {
		s.subTranscripts.Drain()
		s.subLLM.Drain()
		return err
	}
	s.subTTSDone = subDone
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range []*nats.Subscription{s.subTranscripts, s.subLLM, s.subTTSDone} {
		if sub != nil {
			_ = sub.Drain()
		}
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.subTranscripts != nil && s.subLLM != nil && s.subTTSDone != nil)
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("failed to decode transcript", slogError(err))
		return
	}
	if transcript.Text == "" {
		return
	}

	traceID := uuid.NewString()
	s.mu.Lock()
	s.sessions[transcript.SessionID] = &conversation{traceID: traceID, prompt: transcript.Text}
	s.mu.Unlock()

	s.logger.Info("routing transcript to llm",
		slog.String("session_id", transcript.SessionID),
		slog.String("text", transcript.Text))

	s.record(transcript.SessionID, traceID, eventstore.EventTranscript, transcript.Text)

	req := protocol.LLMRequest{
		SessionID: transcript.SessionID,
		TraceID:   traceID,
		Prompt:    transcript.Text,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		s.logger.Warn("failed to marshal llm request", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectLLMRequest, data); err != nil {
		s.logger.Warn("failed to publish llm request", slogError(err))
	}
}

func (s *Service) handleLLMResponse(msg *nats.Msg) {
	var resp protocol.LLMResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		s.logger.Warn("failed to decode llm response", slogError(err))
		return
	}
	if resp.Content == "" {
		return
	}

	s.mu.Lock()
	state := s.sessions[resp.SessionID]
	s.mu.Unlock()

	traceID := resp.TraceID
	if traceID == "" && state != nil {
		traceID = state.traceID
	}

	s.record(resp.SessionID, traceID, eventstore.EventReply, resp.Content)

	req := protocol.TTSRequest{
		SessionID: resp.SessionID,
		TraceID:   traceID,
		Text:      resp.Content,
		Voice:     s.profile.Voice,
		Language:  s.profile.Code,
		Target:    s.resolveTarget(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		s.logger.Warn("failed to marshal tts request", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTTSRequest, data); err != nil {
		s.logger.Warn("failed to publish tts request", slogError(err))
	}
}

func (s *Service) handleTTSDone(msg *nats.Msg) {
	var status protocol.TTSStatus
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		s.logger.Warn("failed to decode tts status", slogError(err))
		return
	}

	s.mu.Lock()
	state := s.sessions[status.SessionID]
	delete(s.sessions, status.SessionID)
	s.mu.Unlock()

	var traceID string
	if state != nil {
		traceID = state.traceID
	}
	payload, _ := json.Marshal(status)
	s.record(status.SessionID, traceID, eventstore.EventSynthesis, string(payload))
}

// resolveTarget prefers a live speaker from the presence registry; the
// configured target is the fallback when none has announced itself.
func (s *Service) resolveTarget() string {
	if s.devices != nil {
		for _, device := range s.devices.Query(presence.WithCapability("speaker")) {
			if device.Healthy {
				return device.ID
			}
		}
	}
	return s.cfg.Target
}

func (s *Service) record(sessionID, traceID, eventType, payload string) {
	if s.store == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()

		if err := s.store.StartSession(ctx, sessionID, s.profile.Language); err != nil {
			s.logger.Warn("failed to record session", slogError(err))
			return
		}
		err := s.store.AppendEvent(ctx, eventstore.Event{
			SessionID: sessionID,
			TraceID:   traceID,
			Type:      eventType,
			Payload:   []byte(payload),
		})
		if err != nil {
			s.logger.Warn("failed to record event", slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
