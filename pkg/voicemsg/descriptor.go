package voicemsg

import (
	"encoding/base64"
	"math"
	"math/rand/v2"
)

const (
	// nominalBytesPerSecond is the fixed bitrate assumed when estimating a
	// duration from a byte count (128 kbit/s). Real MP3s with other bitrates
	// get an inaccurate duration; that is accepted.
	nominalBytesPerSecond = 16000

	// MinDurationSecs and MaxDurationSecs bound every estimated duration.
	MinDurationSecs = 1
	MaxDurationSecs = 3600

	// WaveformSamples is the number of amplitude bytes in a waveform.
	WaveformSamples = 256

	waveformPeriod    = 20.0
	waveformAmplitude = 0.5
	waveformNoise     = 0.3
)

// Descriptor is the synthetic metadata Discord needs to render the voice
// message player.
type Descriptor struct {
	DurationSecs int
	Waveform     string
}

// Describe computes a Descriptor for a file of the given size. The waveform
// part is random and differs on every call.
func Describe(size int64) Descriptor {
	return Descriptor{
		DurationSecs: Duration(size),
		Waveform:     Waveform(),
	}
}

// Duration estimates a playback duration in whole seconds from a byte count:
// floor(size/16000), clamped to [MinDurationSecs, MaxDurationSecs].
func Duration(size int64) int {
	if size < 0 {
		size = 0
	}
	secs := size / nominalBytesPerSecond
	return int(max(MinDurationSecs, min(secs, MaxDurationSecs)))
}

// Waveform returns a base64-encoded placeholder waveform of WaveformSamples
// bytes. The shape is a slow sine with uniform noise on top; it does not
// reflect the audio.
func Waveform() string {
	return base64.StdEncoding.EncodeToString(waveformSamples(rand.Float64))
}

// waveformSamples builds the raw waveform bytes, drawing noise from uniform,
// which must return values in [0, 1).
func waveformSamples(uniform func() float64) []byte {
	out := make([]byte, WaveformSamples)
	for i := range out {
		sine := math.Sin(float64(i)/waveformPeriod) * waveformAmplitude
		noise := (uniform() - 0.5) * waveformNoise
		value := ((sine + noise + 1) / 2) * 255
		out[i] = byte(math.Floor(max(0, min(255, value))))
	}
	return out
}
