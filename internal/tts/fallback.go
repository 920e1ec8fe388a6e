package tts

import (
	"encoding/binary"
	"math"
	"time"
)

// FallbackTone renders a single sine tone as 16-bit little-endian mono PCM.
// It is the degraded response when synthesis fails before producing any
// audio: a short beep beats silence. Deterministic for a given input.
func FallbackTone(sampleRate int, freq float64, dur time.Duration) []byte {
	samples := int(float64(sampleRate) * dur.Seconds())
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		// half volume keeps the beep from clipping on hot speakers
		v := math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)) * 0.5
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}
