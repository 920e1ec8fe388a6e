package protocol

import "time"

// AudioFrame represents PCM audio streamed from an edge device. Final marks
// the last frame of a pause-delimited utterance.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	DeviceID   string `json:"device_id,omitempty"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript is the STT output for a finished utterance.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Language   string    `json:"language,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// LLMRequest asks the language model service for a reply.
type LLMRequest struct {
	SessionID   string    `json:"session_id"`
	TraceID     string    `json:"trace_id,omitempty"`
	Prompt      string    `json:"prompt"`
	System      string    `json:"system,omitempty"`
	Tier        string    `json:"tier,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// LLMResponse carries streamed or final model output.
type LLMResponse struct {
	SessionID        string    `json:"session_id"`
	TraceID          string    `json:"trace_id,omitempty"`
	Content          string    `json:"content"`
	Partial          bool      `json:"partial"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	LatencyMS        int64     `json:"latency_ms,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// TTSRequest asks the synthesis service to speak a reply.
type TTSRequest struct {
	SessionID string `json:"session_id"`
	TraceID   string `json:"trace_id,omitempty"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Language  string `json:"language,omitempty"`
	Target    string `json:"target,omitempty"`
}

// AudioChunk is one unit of synthesized speech on its way to a playback
// device. Chunks for one request are strictly ordered by Sequence.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target,omitempty"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TTSStatus reports how a synthesis request ended.
type TTSStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	Completed bool      `json:"completed"`
	Truncated bool      `json:"truncated,omitempty"`
	Fallback  bool      `json:"fallback,omitempty"`
	Chunks    int       `json:"chunks"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectTranscriptFinal  = "stt.text.final"

	SubjectLLMRequest         = "llm.request"
	SubjectLLMResponsePartial = "llm.response.partial"
	SubjectLLMResponseFinal   = "llm.response.final"

	SubjectTTSRequest = "tts.request"
	SubjectTTSAudio   = "tts.audio"
	SubjectTTSDone    = "tts.done"

	SubjectDeviceAnnounce        = "ctrl.device.announce"
	SubjectDeviceHeartbeatPrefix = "ctrl.device.heartbeat"
)
