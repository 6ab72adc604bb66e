package media

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestSilenceShape(t *testing.T) {
	s := Silence(SampleFormatUnknown, 0, 10)
	if s.Channels != 1 {
		t.Errorf("expected 1 channel, got %d", s.Channels)
	}
	if s.Frames() != 10 {
		t.Errorf("expected 10 frames, got %d", s.Frames())
	}
	for _, b := range s.Data {
		if b != 0 {
			t.Fatalf("expected zeroed buffer")
		}
	}
}

func TestMonoAveragesChannels(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint16(data[0:], uint16(int16(100)))
	binary.LittleEndian.PutUint16(data[2:], uint16(int16(300)))
	binary.LittleEndian.PutUint16(data[4:], uint16(int16(-50)))
	binary.LittleEndian.PutUint16(data[6:], uint16(int16(-150)))
	s := Samples{Format: SampleFormatS16, Channels: 2, Data: data}

	mono := s.Mono()
	if len(mono) != 2 || mono[0] != 200 || mono[1] != -100 {
		t.Errorf("expected [200 -100], got %v", mono)
	}
}

func TestToInt32PCM(t *testing.T) {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(-1))
	binary.LittleEndian.PutUint32(data[8:], math.Float32bits(1))
	s := Samples{Format: SampleFormatFloat, Channels: 1, Data: data}

	pcm := s.ToInt32PCM()
	if pcm.Format != SampleFormatS32 {
		t.Fatalf("expected s32, got %s", pcm.Format)
	}
	want := []float64{1 << 30, math.MinInt32, math.MaxInt32}
	for i, w := range want {
		if got := pcm.Value(i, 0); got != w {
			t.Errorf("sample %d: expected %v, got %v", i, w, got)
		}
	}

	ints := Samples{Format: SampleFormatS16, Channels: 1, Data: []byte{1, 0}}
	if got := ints.ToInt32PCM(); got.Format != SampleFormatS16 {
		t.Errorf("integer samples should pass through unchanged")
	}
}

func TestFullScale(t *testing.T) {
	if v, err := FullScale(SampleFormatS16); err != nil || v != 32768 {
		t.Errorf("s16: %v, %v", v, err)
	}
	if v, err := FullScale(SampleFormatDouble); err != nil || v != 1 {
		t.Errorf("dbl: %v, %v", v, err)
	}
	if _, err := FullScale(SampleFormatU8); err == nil {
		t.Errorf("expected u8 to be rejected")
	}
}
