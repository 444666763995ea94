package audio

import (
	"fmt"
	"math"
)

// Wire format delivered by the capture side and expected by the provider.
const (
	SampleRate = 16000
	Channels   = 1
	Encoding   = "linear16"

	fullScale = 32768.0
)

// EncodePCM16 frames samples as 16-bit signed little-endian PCM.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian PCM into samples.
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d bytes", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// Level returns the RMS energy of samples normalized to [0, 1] against
// full scale. This is the scalar the encounter detector thresholds on.
func Level(samples []int16) float64 {
	level := CalculateRMS(samples) / fullScale
	if level > 1 {
		return 1
	}
	return level
}
