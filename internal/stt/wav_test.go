package stt

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestWritePCMToWavRoundTrip(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	path := filepath.Join(t.TempDir(), "utterance.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := writePCMToWav(file, pcm, 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	file.Close()

	in, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer in.Close()

	dec := wav.NewDecoder(in)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if buf.Format.SampleRate != 16000 || buf.Format.NumChannels != 1 {
		t.Fatalf("unexpected format: %+v", buf.Format)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(buf.Data))
	}
	for i, s := range samples {
		if buf.Data[i] != int(s) {
			t.Fatalf("sample %d: got %d want %d", i, buf.Data[i], s)
		}
	}
}

func TestWritePCMToWavRejectsOddPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()

	if err := writePCMToWav(file, []byte{0x01}, 16000, 1); err == nil {
		t.Fatal("expected error for unaligned pcm")
	}
}
