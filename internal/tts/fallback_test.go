package tts

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func TestFallbackToneLengthAndDeterminism(t *testing.T) {
	a := FallbackTone(16000, 440, 500*time.Millisecond)
	b := FallbackTone(16000, 440, 500*time.Millisecond)

	if len(a) != 16000 {
		t.Fatalf("expected 8000 samples (16000 bytes), got %d bytes", len(a))
	}
	if !bytes.Equal(a, b) {
		t.Fatal("fallback tone must be deterministic")
	}
}

func TestFallbackToneAmplitude(t *testing.T) {
	pcm := FallbackTone(16000, 440, 100*time.Millisecond)

	var peak int16
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(binary.LittleEndian.Uint16(pcm[i:]))
		if v > peak {
			peak = v
		}
	}
	// half-volume sine: peak near 16383, never clipping
	if peak < 16000 || peak > 16384 {
		t.Fatalf("unexpected peak amplitude %d", peak)
	}
	if pcm[0] != 0 || pcm[1] != 0 {
		t.Fatalf("sine must start at zero crossing, got % x", pcm[:2])
	}
}
