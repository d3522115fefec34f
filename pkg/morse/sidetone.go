package morse

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/window"
)

// MaxSidetoneText bounds the text of one render, matching the capacity
// of a default keyer queue
const MaxSidetoneText = 1023

// Sidetone renders keyed text as 16-bit PCM for monitoring
type Sidetone struct {
	Freq       float64 // tone frequency in Hz
	SampleRate int
	WPM        int
	Amplitude  float64 // 0..1, zero selects 0.5
	RiseTime   float64 // edge length in seconds, zero selects 5 ms
}

// NewSidetone creates a 700 Hz sidetone at 8 kHz
func NewSidetone(wpm int) Sidetone {
	return Sidetone{Freq: 700, SampleRate: 8000, WPM: wpm}
}

func (s Sidetone) validate() error {
	if s.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", s.SampleRate)
	}
	if s.Freq <= 0 || s.Freq >= float64(s.SampleRate)/2 {
		return fmt.Errorf("tone %.1f Hz outside 0-%d Hz", s.Freq, s.SampleRate/2)
	}
	return ValidateWPM(s.WPM)
}

// Render returns the samples of text. Keyed spans are shaped with the
// halves of a Hann window to avoid key clicks.
func (s Sidetone) Render(text string) ([]int16, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if len(text) > MaxSidetoneText {
		return nil, fmt.Errorf("sidetone text %d bytes, limit %d", len(text), MaxSidetoneText)
	}

	amplitude := s.Amplitude
	if amplitude <= 0 || amplitude > 1 {
		amplitude = 0.5
	}
	rise := s.RiseTime
	if rise <= 0 {
		rise = 0.005
	}

	unit := int(UnitDuration(s.WPM).Seconds() * float64(s.SampleRate))
	edge := int(rise * float64(s.SampleRate))
	if edge > unit/2 {
		edge = unit / 2
	}
	var ramp []float64
	if edge > 0 {
		ramp = window.Hann(2*edge + 1)
	}

	elements := Encode(text)
	samples := make([]int16, 0, Units(elements)*unit)
	phase := 0

	for _, e := range elements {
		n := e.Units * unit
		if !e.On {
			samples = append(samples, make([]int16, n)...)
			phase += n
			continue
		}
		for i := 0; i < n; i++ {
			gain := 1.0
			switch {
			case i < edge:
				gain = ramp[i]
			case i >= n-edge:
				gain = ramp[edge+1+(i-(n-edge))]
			}
			t := float64(phase+i) / float64(s.SampleRate)
			v := amplitude * gain * math.Sin(2*math.Pi*s.Freq*t)
			samples = append(samples, int16(v*math.MaxInt16))
		}
		phase += n
	}
	return samples, nil
}

// WAV renders text as a mono 16-bit PCM RIFF file
func (s Sidetone) WAV(text string) ([]byte, error) {
	samples, err := s.Render(text)
	if err != nil {
		return nil, err
	}

	dataLen := uint32(len(samples) * 2)
	var buf bytes.Buffer
	buf.Grow(44 + int(dataLen))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, struct {
		Size          uint32
		Format        uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}{16, 1, 1, uint32(s.SampleRate), uint32(s.SampleRate) * 2, 2, 16})
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes(), nil
}
