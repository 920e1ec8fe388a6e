package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// execSynth shells out to an external TTS process. The process reads one
// JSON request on stdin and writes a JSON chunk stream on stdout. Each
// request runs its own process; concurrent requests do not serialize.
type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execChunk struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := e.run(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *execSynth) run(ctx context.Context, req SynthRequest, chunks chan<- SynthChunk) error {
	// Plain Command, not CommandContext: an abandoned collection must not
	// kill the process mid-utterance. ctx going away only stops delivery.
	cmd := exec.Command(e.cmd[0], e.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("tts stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("tts stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start tts command: %w", err)
	}

	payload := execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		Language:   req.Language,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	}
	if err := json.NewEncoder(stdin).Encode(payload); err != nil {
		stdin.Close()
		cmd.Wait()
		return fmt.Errorf("write tts request: %w", err)
	}
	stdin.Close()

	// json.Decoder instead of line scanning: PCM chunks routinely exceed
	// bufio.Scanner's default token size.
	dec := json.NewDecoder(stdout)
	sequence := 0
	for {
		var resp execChunk
		if err := dec.Decode(&resp); err != nil {
			if err == io.EOF {
				break
			}
			cmd.Wait()
			return fmt.Errorf("decode tts chunk: %w", err)
		}
		pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			cmd.Wait()
			return fmt.Errorf("decode tts pcm: %w", err)
		}
		select {
		case chunks <- SynthChunk{
			SessionID:  req.SessionID,
			Sequence:   sequence,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
			PCM:        pcm,
			Final:      resp.Final,
		}:
		case <-ctx.Done():
			// The consumer walked away. Swallow the rest of the stream so
			// the process can exit cleanly, then discard it.
			io.Copy(io.Discard, stdout)
			cmd.Wait()
			return nil
		}
		sequence++
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("tts command failed: %w", err)
	}
	return nil
}
