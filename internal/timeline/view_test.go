package timeline

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mgpai22/subsync/internal/media"
	"github.com/mgpai22/subsync/internal/media/mediatest"
	"github.com/mgpai22/subsync/internal/stream"
	"github.com/mgpai22/subsync/internal/subtitle"
	"github.com/mgpai22/subsync/internal/taskqueue"
)

func fixed(ms int64) Extent {
	return ExtentFunc(func() int64 { return ms })
}

func TestNewViewShowsEverything(t *testing.T) {
	v := New(DefaultFollowConfig(), fixed(10000), fixed(4000))

	want := State{Min: 0, Max: 10000, ViewStart: 0, ViewEnd: 10000}
	if diff := cmp.Diff(want, v.State()); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	if v.HasSelection() {
		t.Error("expected no selection after construction")
	}
}

func TestSetViewSwapsAndClips(t *testing.T) {
	v := New(DefaultFollowConfig(), fixed(10000))

	changed := 0
	v.ViewChanged.Connect(func(struct{}) { changed++ })

	v.SetView(8000, 2000)
	if v.ViewStart() != 2000 || v.ViewEnd() != 8000 {
		t.Errorf("expected [2000, 8000], got [%d, %d]", v.ViewStart(), v.ViewEnd())
	}
	v.SetView(-500, 12000)
	if v.ViewStart() != 0 || v.ViewEnd() != 10000 {
		t.Errorf("expected [0, 10000], got [%d, %d]", v.ViewStart(), v.ViewEnd())
	}
	if changed != 2 {
		t.Errorf("expected 2 change notifications, got %d", changed)
	}
}

func TestZoomAndMove(t *testing.T) {
	v := New(DefaultFollowConfig(), fixed(10000))

	v.ZoomView(0.5, 0.5)
	if v.ViewStart() != 2500 || v.ViewEnd() != 7500 {
		t.Fatalf("expected [2500, 7500], got [%d, %d]", v.ViewStart(), v.ViewEnd())
	}

	tests := []struct {
		name      string
		distance  int64
		wantStart int64
		wantEnd   int64
	}{
		{"inside", 1000, 3500, 8500},
		{"past max", 5000, 5000, 10000},
		{"past min", -20000, 0, 5000},
		{"back", 250, 250, 5250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v.MoveView(tt.distance)
			if v.ViewStart() != tt.wantStart || v.ViewEnd() != tt.wantEnd {
				t.Errorf("expected [%d, %d], got [%d, %d]", tt.wantStart, tt.wantEnd, v.ViewStart(), v.ViewEnd())
			}
		})
	}
}

func TestZoomClampsFactor(t *testing.T) {
	v := New(DefaultFollowConfig(), fixed(100000))

	v.ZoomView(0, 0)
	if got := v.ViewSize(); got != 100 {
		t.Errorf("expected minimum zoom width 100, got %d", got)
	}
	v.ZoomView(5, 0.5)
	if got := v.ViewSize(); got != 100000 {
		t.Errorf("expected full width, got %d", got)
	}
}

func TestViewStaysInBounds(t *testing.T) {
	v := New(DefaultFollowConfig(), fixed(90000))
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 2000; i++ {
		if rng.IntN(2) == 0 {
			v.ZoomView(rng.Float64()*1.4-0.2, rng.Float64()*1.4-0.2)
		} else {
			v.MoveView(rng.Int64N(200000) - 100000)
		}
		s := v.State()
		if !(s.Min <= s.ViewStart && s.ViewStart <= s.ViewEnd && s.ViewEnd <= s.Max) {
			t.Fatalf("step %d: bounds violated: %+v", i, s)
		}
	}
}

func TestSelection(t *testing.T) {
	v := New(DefaultFollowConfig(), fixed(10000))

	changed := 0
	v.SelectionChanged.Connect(func(struct{}) { changed++ })

	v.Select(300, 100)
	if v.SelectionStart() != 100 || v.SelectionEnd() != 300 || !v.HasSelection() {
		t.Errorf("expected selection [100, 300], got %+v", v.State())
	}
	v.Select(-5, 20000)
	if v.SelectionStart() != 0 || v.SelectionEnd() != 10000 {
		t.Errorf("expected clipped selection, got %+v", v.State())
	}

	v.Select(0, 0)
	if !v.HasSelection() {
		t.Error("expected zero-width selection at origin to count as a selection")
	}

	v.Unselect()
	if v.HasSelection() || v.SelectionSize() != 0 {
		t.Errorf("expected no selection, got %+v", v.State())
	}
	if changed != 4 {
		t.Errorf("expected 4 change notifications, got %d", changed)
	}
}

func TestResetViewRecomputesBounds(t *testing.T) {
	var far int64 = 20000
	v := New(DefaultFollowConfig(), ExtentFunc(func() int64 { return far }))
	v.ZoomView(0.1, 0)

	far = 5000
	v.ExtendView()
	if v.Max() != 20000 {
		t.Errorf("expected extend to keep max 20000, got %d", v.Max())
	}

	v.ResetView()
	want := State{Max: 5000, ViewEnd: 5000}
	if diff := cmp.Diff(want, v.State()); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestFollow(t *testing.T) {
	single := []subtitle.Event{{Start: 5000, End: 6000}}
	tests := []struct {
		name   string
		cfg    FollowConfig
		events []subtitle.Event
		want   State
	}{
		{
			name:   "dynamic",
			cfg:    FollowConfig{Mode: FollowDynamic, LeadIn: 1000, LeadOut: 1000},
			events: single,
			want:   State{Max: 60000, ViewStart: 4000, ViewEnd: 7000, SelectionStart: 5000, SelectionEnd: 6000, HasSelection: true},
		},
		{
			name:   "dynamic min window",
			cfg:    FollowConfig{Mode: FollowDynamic, LeadIn: 1000, LeadOut: 1000, MinWindow: 4000},
			events: single,
			want:   State{Max: 60000, ViewStart: 3500, ViewEnd: 7500, SelectionStart: 5000, SelectionEnd: 6000, HasSelection: true},
		},
		{
			name:   "dynamic max window",
			cfg:    FollowConfig{Mode: FollowDynamic, LeadIn: 1000, LeadOut: 1000, MaxWindow: 2000},
			events: single,
			want:   State{Max: 60000, ViewStart: 4500, ViewEnd: 6500, SelectionStart: 5000, SelectionEnd: 6000, HasSelection: true},
		},
		{
			name:   "dynamic several events",
			cfg:    FollowConfig{Mode: FollowDynamic, LeadIn: 500, LeadOut: 500},
			events: []subtitle.Event{{Start: 3000, End: 4000}, {Start: 1000, End: 2000}},
			want:   State{Max: 60000, ViewStart: 500, ViewEnd: 4500, SelectionStart: 1000, SelectionEnd: 4000, HasSelection: true},
		},
		{
			name:   "constant",
			cfg:    FollowConfig{Mode: FollowConstant, Window: 2000},
			events: single,
			want:   State{Max: 60000, ViewStart: 4500, ViewEnd: 6500, SelectionStart: 5000, SelectionEnd: 6000, HasSelection: true},
		},
		{
			name:   "none",
			cfg:    FollowConfig{Mode: FollowNone},
			events: single,
			want:   State{Max: 60000, ViewEnd: 60000, SelectionStart: 5000, SelectionEnd: 6000, HasSelection: true},
		},
		{
			name: "empty",
			cfg:  FollowConfig{Mode: FollowDynamic},
			want: State{Max: 60000, ViewEnd: 60000},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(tt.cfg, fixed(60000))
			v.Follow(tt.events)
			if diff := cmp.Diff(tt.want, v.State()); diff != "" {
				t.Errorf("state mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFollowMode(t *testing.T) {
	for _, s := range []string{"none", "dynamic", "constant"} {
		if m, err := ParseFollowMode(s); err != nil || string(m) != s {
			t.Errorf("ParseFollowMode(%q) = %q, %v", s, m, err)
		}
	}
	if _, err := ParseFollowMode("sticky"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestBindRefitsOnLoadAndSubtitles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.wav")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	backend := mediatest.NewBackend()
	backend.AddAudio(path, mediatest.Audio{Props: media.AudioProperties{
		Channels:    1,
		SampleRate:  1000,
		Format:      media.SampleFormatS16,
		SampleCount: 30000,
		LastTime:    30,
	}})
	q := taskqueue.New(context.Background(), taskqueue.Options{Name: "open"})
	t.Cleanup(q.Stop)
	audio := stream.NewAudioRegistry(backend, stream.RegistryOptions{Options: stream.Options{Queue: q}})
	subs := subtitle.NewEventList()

	v := New(DefaultFollowConfig(), AudioExtent(audio), SubtitleExtent(subs))
	disconnect := Bind(v, audio, nil, subs)
	defer disconnect()

	loaded := make(chan struct{})
	audio.Signals().Loaded.Connect(func(*stream.AudioStream) { close(loaded) })

	if _, _, err := audio.Load(path, true); err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	select {
	case <-loaded:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for load")
	}
	if v.Max() != 30000 || v.ViewEnd() != 30000 {
		t.Errorf("expected view refit to 30000, got %+v", v.State())
	}

	subs.Append(subtitle.Event{Start: 40000, End: 45000})
	if v.Max() != 45000 {
		t.Errorf("expected max 45000 after subtitles changed, got %d", v.Max())
	}

	disconnect()
	subs.Append(subtitle.Event{Start: 50000, End: 55000})
	if v.Max() != 45000 {
		t.Errorf("expected max to stay 45000 after disconnect, got %d", v.Max())
	}
}
