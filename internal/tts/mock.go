package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"time"
)

// MockProvider synthesizes silent audio so narration-bearing guides can run
// end to end without a speech backend.
type MockProvider struct {
	SampleRate int
}

// Name returns the provider identifier.
func (m MockProvider) Name() string {
	return "mock"
}

// Synthesize generates a silent WAV sized to the reading time of the text.
func (m MockProvider) Synthesize(_ context.Context, req Request) (ProviderResult, error) {
	rate := m.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	duration := readingTime(req.Text)
	return ProviderResult{
		Audio:       silentWAV(duration, rate),
		ContentType: "audio/wav",
		Duration:    duration,
		Metadata:    map[string]string{"voice": req.Voice},
	}, nil
}

// readingTime estimates spoken duration at roughly 12 characters per second,
// never shorter than two seconds.
func readingTime(text string) time.Duration {
	seconds := float64(len([]rune(text))) / 12.0
	if seconds < 2 {
		seconds = 2
	}
	return time.Duration(seconds * float64(time.Second))
}

func silentWAV(duration time.Duration, sampleRate int) []byte {
	samples := int(math.Ceil(duration.Seconds() * float64(sampleRate)))
	if samples < sampleRate {
		samples = sampleRate
	}
	// 16-bit mono PCM.
	dataSize := samples * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}
