package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charla-io/charla/internal/bus"
	"github.com/charla-io/charla/internal/config"
	"github.com/charla-io/charla/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service answers llm.request messages. Streamed tokens go out as partial
// responses; the accumulated reply goes out as the final one the router and
// TTS act on.
type Service struct {
	cfg          config.LLMConfig
	systemPrompt string
	bus          *bus.Client
	generator    Generator
	sub          *nats.Subscription
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       *slog.Logger
}

func NewService(parent context.Context, cfg config.LLMConfig, systemPrompt string, busClient *bus.Client, generator Generator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:          cfg,
		systemPrompt: systemPrompt,
		bus:          busClient,
		generator:    generator,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With(slog.String("component", "llm-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectLLMRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe LLM requests: %w", err)
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

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.LLMRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode llm request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.generate(req)
	}()
}

func (s *Service) generate(req protocol.LLMRequest) {
	ctx, cancel := context.WithTimeout(s.ctx, 60*time.Second)
	defer cancel()

	genReq := Request{
		SessionID:   req.SessionID,
		TraceID:     req.TraceID,
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   coalesceInt(req.MaxTokens, s.cfg.MaxTokens),
		Temperature: req.Temperature,
	}
	if genReq.System == "" {
		genReq.System = s.systemPrompt
	}
	if genReq.Temperature == 0 {
		genReq.Temperature = s.cfg.Temperature
	}

	start := time.Now()
	var reply strings.Builder
	var promptTokens, completionTokens int
	err := s.generator.Generate(ctx, genReq, func(chunk Chunk) error {
		reply.WriteString(chunk.Content)
		if chunk.PromptTokens > 0 {
			promptTokens = chunk.PromptTokens
		}
		if chunk.CompletionTokens > 0 {
			completionTokens = chunk.CompletionTokens
		}
		if chunk.Done || chunk.Content == "" {
			return nil
		}
		return s.publish(req, chunk.Content, true, promptTokens, completionTokens, time.Since(start))
	})
	if err != nil {
		s.logger.Warn("llm generation failed", slog.String("session_id", req.SessionID), slogError(err))
		return
	}

	text := strings.TrimSpace(reply.String())
	if text == "" {
		s.logger.Warn("llm produced empty reply", slog.String("session_id", req.SessionID))
		return
	}
	if err := s.publish(req, text, false, promptTokens, completionTokens, time.Since(start)); err != nil {
		s.logger.Warn("failed to publish llm response", slogError(err))
		return
	}
	s.logger.Info("llm generation complete",
		slog.String("session_id", req.SessionID),
		slog.Int("completion_tokens", completionTokens),
		slog.Duration("latency", time.Since(start)))
}

func (s *Service) publish(req protocol.LLMRequest, content string, partial bool, promptTokens, completionTokens int, latency time.Duration) error {
	msg := protocol.LLMResponse{
		SessionID:        req.SessionID,
		TraceID:          req.TraceID,
		Content:          content,
		Partial:          partial,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		LatencyMS:        latency.Milliseconds(),
		Timestamp:        time.Now().UTC(),
	}
	subject := protocol.SubjectLLMResponsePartial
	if !partial {
		subject = protocol.SubjectLLMResponseFinal
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.bus.Conn().Publish(subject, data)
}

func coalesceInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
