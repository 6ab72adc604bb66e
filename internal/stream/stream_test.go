package stream

import (
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/mgpai22/subsync/internal/media"
	"github.com/mgpai22/subsync/internal/media/mediatest"
	"github.com/mgpai22/subsync/internal/mediaerr"
	"github.com/mgpai22/subsync/internal/taskqueue"
	"github.com/mgpai22/subsync/internal/wav"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(name), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", p, err)
	}
	return p
}

func testOptions(t *testing.T) RegistryOptions {
	t.Helper()
	q := taskqueue.New(context.Background(), taskqueue.Options{Name: "open", ErrorPause: time.Millisecond})
	t.Cleanup(q.Stop)
	return RegistryOptions{Options: Options{Queue: q}}
}

func waitReady(t *testing.T, s Stream) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.WaitReady(ctx)
}

func monoS16(rate int, count int64) mediatest.Audio {
	return mediatest.Audio{
		Props: media.AudioProperties{
			Channels:      1,
			BitsPerSample: 16,
			SampleRate:    rate,
			Format:        media.SampleFormatS16,
			SampleCount:   count,
			LastTime:      float64(count) / float64(rate),
		},
		Generate: func(frame int64, _ int) float64 { return float64(frame%100 + 1) },
	}
}

func uids[S Stream](streams []S) []uuid.UUID {
	out := make([]uuid.UUID, len(streams))
	for i, s := range streams {
		out[i] = s.UID()
	}
	return out
}

func TestRegistryLoadSameFileTwice(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "a.wav")
	link := filepath.Join(dir, "link.wav")
	if err := os.Symlink(path, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	backend := mediatest.NewBackend()
	backend.AddAudio(path, monoS16(1000, 1000))
	reg := NewAudioRegistry(backend, testOptions(t))

	first, created, err := reg.Load(path, true)
	if err != nil || !created {
		t.Fatalf("expected first load to create a stream, got created=%v err=%v", created, err)
	}
	second, created, err := reg.Load(link, true)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if created {
		t.Errorf("expected second load to report already loaded")
	}
	if second != first {
		t.Errorf("expected the existing stream to be returned")
	}
	if reg.Len() != 1 {
		t.Errorf("expected 1 stream, got %d", reg.Len())
	}
}

func TestRegistryUnloadCurrentAdvances(t *testing.T) {
	dir := t.TempDir()
	backend := mediatest.NewBackend()
	reg := NewAudioRegistry(backend, testOptions(t))

	var streams []*AudioStream
	for _, name := range []string{"a.wav", "b.wav", "c.wav"} {
		p := touch(t, dir, name)
		backend.AddAudio(p, monoS16(1000, 10))
		s, _, err := reg.Load(p, true)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		streams = append(streams, s)
	}

	if cur, _ := reg.Current(); cur != streams[2] {
		t.Fatalf("expected last loaded stream to be current")
	}
	if err := reg.Switch(streams[1].UID()); err != nil {
		t.Fatalf("switch failed: %v", err)
	}

	if err := reg.UnloadCurrent(); err != nil {
		t.Fatalf("unload failed: %v", err)
	}
	cur, ok := reg.Current()
	if !ok || cur != streams[2] {
		t.Errorf("expected stream at the same index to become current, got %v", cur)
	}
	if diff := cmp.Diff(uids([]*AudioStream{streams[0], streams[2]}), uids(reg.Streams())); diff != "" {
		t.Errorf("streams mismatch (-want +got):\n%s", diff)
	}

	// removing the last element leaves nothing at that index
	if err := reg.UnloadCurrent(); err != nil {
		t.Fatalf("unload failed: %v", err)
	}
	if _, ok := reg.Current(); ok {
		t.Errorf("expected no current stream")
	}
	if streams[1].State() != StateUnloaded {
		t.Errorf("expected unloaded state, got %s", streams[1].State())
	}
}

func TestRegistryUnloadOtherKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	backend := mediatest.NewBackend()
	reg := NewAudioRegistry(backend, testOptions(t))
	a, _, _ := reg.Load(touch(t, dir, "a.wav"), true)
	b, _, _ := reg.Load(touch(t, dir, "b.wav"), true)

	if err := reg.Unload(a.UID()); err != nil {
		t.Fatalf("unload failed: %v", err)
	}
	if cur, _ := reg.Current(); cur != b {
		t.Errorf("expected current stream to stay put")
	}
	if err := reg.Unload(uuid.New()); err != nil {
		t.Errorf("unloading an unknown uid should be ignored, got %v", err)
	}
}

func TestRegistrySwitchUnknown(t *testing.T) {
	backend := mediatest.NewBackend()
	reg := NewVideoRegistry(backend, testOptions(t))
	v, _, _ := reg.Load(touch(t, t.TempDir(), "a.mkv"), true)

	err := reg.Switch(uuid.New())
	if !errors.Is(err, mediaerr.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if cur, _ := reg.Current(); cur != v {
		t.Errorf("expected current stream to be unchanged")
	}

	if err := reg.Switch(uuid.Nil); err != nil {
		t.Fatalf("switch to none failed: %v", err)
	}
	if _, ok := reg.Current(); ok {
		t.Errorf("expected no current stream after switching to none")
	}
}

func TestRegistryCycle(t *testing.T) {
	dir := t.TempDir()
	backend := mediatest.NewBackend()
	reg := NewAudioRegistry(backend, testOptions(t))

	reg.Cycle()
	if _, ok := reg.Current(); ok {
		t.Fatalf("cycle on an empty registry should do nothing")
	}

	a, _, _ := reg.Load(touch(t, dir, "a.wav"), false)
	b, _, _ := reg.Load(touch(t, dir, "b.wav"), false)
	reg.Cycle()
	if _, ok := reg.Current(); ok {
		t.Fatalf("cycle without a current stream should do nothing")
	}

	_ = reg.Switch(a.UID())
	reg.Cycle()
	if cur, _ := reg.Current(); cur != b {
		t.Errorf("expected b after one cycle")
	}
	reg.Cycle()
	if cur, _ := reg.Current(); cur != a {
		t.Errorf("expected cycle to wrap around to a")
	}
}

func TestRegistrySignals(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "a.wav")
	backend := mediatest.NewBackend()
	backend.AddAudio(path, monoS16(1000, 10))
	reg := NewAudioRegistry(backend, testOptions(t))

	var mu sync.Mutex
	var got []string
	record := func(name string) func(*AudioStream) {
		return func(*AudioStream) {
			mu.Lock()
			got = append(got, name)
			mu.Unlock()
		}
	}
	sig := reg.Signals()
	sig.Created.Connect(record("created"))
	sig.CurrentSwitched.Connect(record("switched"))
	sig.Loaded.Connect(record("loaded"))
	sig.Unloaded.Connect(record("unloaded"))
	// handlers may call back into the registry
	sig.Created.Connect(func(s *AudioStream) {
		if reg.Index(s.UID()) != 0 {
			t.Errorf("created stream not visible from handler")
		}
	})

	loaded := make(chan struct{})
	sig.Loaded.Connect(func(*AudioStream) { close(loaded) })

	if _, _, err := reg.Load(path, true); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	select {
	case <-loaded:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not load")
	}
	if err := reg.UnloadAll(); err != nil {
		t.Fatalf("unload all failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"created", "switched", "loaded", "unloaded", "switched"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("signal order mismatch (-want +got):\n%s", diff)
	}
}

func TestAudioStreamMissingFile(t *testing.T) {
	backend := mediatest.NewBackend()
	reg := NewAudioRegistry(backend, testOptions(t))

	errored := make(chan struct{}, 1)
	reg.Signals().Errored.Connect(func(*AudioStream) { errored <- struct{}{} })

	s, _, err := reg.Load(filepath.Join(t.TempDir(), "missing.wav"), true)
	if err != nil {
		t.Fatalf("load should not fail synchronously: %v", err)
	}
	err = waitReady(t, s)
	if !errors.Is(err, mediaerr.ErrSourceNotFound) {
		t.Fatalf("expected source not found, got %v", err)
	}
	select {
	case <-errored:
	case <-time.After(time.Second):
		t.Fatalf("expected errored signal")
	}

	if s.State() != StateErrored {
		t.Errorf("expected errored state, got %s", s.State())
	}
	if s.SampleRate() != 0 || s.ChannelCount() != 0 || s.MaxTime() != 0 {
		t.Errorf("expected zero metadata on an errored stream")
	}
	samples, err := s.GetSamples(0, 8)
	if err != nil {
		t.Fatalf("GetSamples failed: %v", err)
	}
	if samples.Channels != 1 || samples.Frames() != 8 {
		t.Errorf("expected 8 silent mono frames, got %d x %d", samples.Frames(), samples.Channels)
	}
	if backend.AudioOpens.Load() != 0 {
		t.Errorf("backend should not be asked to open a missing file")
	}
}

func TestAudioStreamDecodeError(t *testing.T) {
	path := touch(t, t.TempDir(), "broken.wav")
	backend := mediatest.NewBackend()
	backend.Fail(path, errors.New("invalid data found when processing input"))
	reg := NewAudioRegistry(backend, testOptions(t))

	s, _, _ := reg.Load(path, true)
	if err := waitReady(t, s); !errors.Is(err, mediaerr.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if reg.Len() != 1 {
		t.Errorf("errored streams stay listed until unloaded")
	}
}

func TestAudioStreamMetadata(t *testing.T) {
	path := touch(t, t.TempDir(), "a.wav")
	backend := mediatest.NewBackend()
	track := monoS16(48000, 48000*3)
	track.Props.FirstTime = 0.0004
	backend.AddAudio(path, track)
	reg := NewAudioRegistry(backend, testOptions(t))

	s, _, _ := reg.Load(path, true)
	if err := waitReady(t, s); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if s.SampleRate() != 48000 || s.ChannelCount() != 1 || s.BitsPerSample() != 16 {
		t.Errorf("unexpected metadata: rate=%d channels=%d bits=%d",
			s.SampleRate(), s.ChannelCount(), s.BitsPerSample())
	}
	if s.MinTime() != 0 || s.MaxTime() != 3000 {
		t.Errorf("expected 0..3000, got %d..%d", s.MinTime(), s.MaxTime())
	}
	if s.SampleFormat() != media.SampleFormatS16 {
		t.Errorf("expected s16, got %s", s.SampleFormat())
	}
}

func TestAudioGetSamples(t *testing.T) {
	path := touch(t, t.TempDir(), "a.wav")
	backend := mediatest.NewBackend()
	backend.AddAudio(path, monoS16(1000, 10))
	reg := NewAudioRegistry(backend, testOptions(t))
	s, _, _ := reg.Load(path, true)
	if err := waitReady(t, s); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	tests := []struct {
		name  string
		start int64
		count int64
		want  []float64
	}{
		{"inside", 2, 3, []float64{3, 4, 5}},
		{"clamped at end", 8, 5, []float64{9, 10}},
		{"before start", -2, 4, []float64{0, 0, 1, 2}},
		{"past end", 20, 4, []float64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples, err := s.GetSamples(tt.start, tt.count)
			if err != nil {
				t.Fatalf("GetSamples failed: %v", err)
			}
			got := samples.Mono()
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("samples mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := s.GetSamples(0, -1); !errors.Is(err, mediaerr.ErrInvalidRange) {
		t.Errorf("expected invalid range for a negative count, got %v", err)
	}
}

func TestSaveWav(t *testing.T) {
	path := touch(t, t.TempDir(), "a.wav")
	backend := mediatest.NewBackend()
	backend.AddAudio(path, monoS16(1000, 1000))
	reg := NewAudioRegistry(backend, testOptions(t))
	s, _, _ := reg.Load(path, true)
	if err := waitReady(t, s); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	out := filepath.Join(t.TempDir(), "out.wav")
	if err := s.SaveWavFile(out, 100, 600); err != nil {
		t.Fatalf("SaveWavFile failed: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer func() { _ = f.Close() }()
	info, _ := f.Stat()

	h, err := wav.ReadHeader(f)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if h.DataSize != 500*2 {
		t.Errorf("expected %d data bytes, got %d", 500*2, h.DataSize)
	}
	if int64(h.RIFFSize) != info.Size()-8 {
		t.Errorf("expected riff size %d, got %d", info.Size()-8, h.RIFFSize)
	}
	if h.SampleRate != 1000 || h.Channels != 1 || h.Bits != 16 {
		t.Errorf("unexpected format: %+v", h)
	}
}

func TestSaveWavAppliesDelay(t *testing.T) {
	path := touch(t, t.TempDir(), "a.wav")
	backend := mediatest.NewBackend()
	backend.AddAudio(path, monoS16(1000, 1000))
	reg := NewAudioRegistry(backend, testOptions(t))
	s, _, _ := reg.Load(path, true)
	if err := waitReady(t, s); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	changed := 0
	s.Signals().Changed.Connect(func(struct{}) { changed++ })
	s.SetDelay(950)
	if changed != 1 {
		t.Errorf("expected one changed signal, got %d", changed)
	}

	out := filepath.Join(t.TempDir(), "out.wav")
	// 950..1050 after delay: only 50 frames remain in the track
	if err := s.SaveWavFile(out, 1900, 2000); err != nil {
		t.Fatalf("SaveWavFile failed: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer func() { _ = f.Close() }()
	h, err := wav.ReadHeader(f)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if h.DataSize != 50*2 {
		t.Errorf("expected 100 data bytes, got %d", h.DataSize)
	}
}

func TestSaveWavRejectsNegativeRange(t *testing.T) {
	path := touch(t, t.TempDir(), "a.wav")
	backend := mediatest.NewBackend()
	backend.AddAudio(path, monoS16(1000, 1000))
	reg := NewAudioRegistry(backend, testOptions(t))
	s, _, _ := reg.Load(path, true)
	if err := waitReady(t, s); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	out := filepath.Join(t.TempDir(), "out.wav")
	err := s.SaveWavFile(out, 500, 100)
	if !errors.Is(err, mediaerr.ErrInvalidRange) {
		t.Fatalf("expected invalid range, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Errorf("expected no file to be left behind")
	}
}

func TestSaveWavConvertsFloat(t *testing.T) {
	path := touch(t, t.TempDir(), "a.flac")
	backend := mediatest.NewBackend()
	backend.AddAudio(path, mediatest.Audio{
		Props: media.AudioProperties{
			Channels:      2,
			BitsPerSample: 32,
			SampleRate:    1000,
			Format:        media.SampleFormatFloat,
			SampleCount:   100,
		},
		Generate: func(int64, int) float64 { return 0.5 },
	})
	reg := NewAudioRegistry(backend, testOptions(t))
	s, _, _ := reg.Load(path, true)
	if err := waitReady(t, s); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	out := filepath.Join(t.TempDir(), "out.wav")
	if err := s.SaveWavFile(out, 0, 10); err != nil {
		t.Fatalf("SaveWavFile failed: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer func() { _ = f.Close() }()
	h, err := wav.ReadHeader(f)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if h.Format != 1 || h.Bits != 32 || h.Channels != 2 {
		t.Errorf("expected 32-bit integer pcm stereo, got %+v", h)
	}
	if h.DataSize != 10*2*4 {
		t.Errorf("expected %d data bytes, got %d", 10*2*4, h.DataSize)
	}
}

func TestUnloadWhileLoading(t *testing.T) {
	path := touch(t, t.TempDir(), "a.wav")
	backend := mediatest.NewBackend()
	backend.AddAudio(path, monoS16(1000, 10))
	release := backend.Hold(path)
	opts := testOptions(t)
	reg := NewAudioRegistry(backend, opts)

	loaded := 0
	reg.Signals().Loaded.Connect(func(*AudioStream) { loaded++ })

	s, _, _ := reg.Load(path, true)
	if err := reg.Unload(s.UID()); err != nil {
		t.Fatalf("unload failed: %v", err)
	}
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := opts.Queue.WaitIdle(ctx); err != nil {
		t.Fatalf("queue did not drain: %v", err)
	}
	if s.State() != StateUnloaded {
		t.Errorf("expected unloaded state, got %s", s.State())
	}
	if loaded != 0 {
		t.Errorf("expected no loaded signal for an unloaded stream")
	}
	if s.SampleRate() != 0 {
		t.Errorf("expected no metadata on an unloaded stream")
	}
}

func TestWaitReadyWaitsForListeners(t *testing.T) {
	dir := t.TempDir()
	good := touch(t, dir, "a.wav")
	bad := touch(t, dir, "b.wav")
	backend := mediatest.NewBackend()
	backend.AddAudio(good, monoS16(1000, 10))
	backend.Fail(bad, errors.New("moov atom not found"))
	reg := NewAudioRegistry(backend, testOptions(t))

	var mu sync.Mutex
	handled := map[string]bool{}
	slow := func(s *AudioStream) {
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		handled[filepath.Base(s.Path())] = true
		mu.Unlock()
	}
	reg.Signals().Loaded.Connect(slow)
	reg.Signals().Errored.Connect(slow)

	tests := []struct {
		path    string
		wantErr bool
	}{
		{good, false},
		{bad, true},
	}
	for _, tt := range tests {
		t.Run(filepath.Base(tt.path), func(t *testing.T) {
			s, _, err := reg.Load(tt.path, false)
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if err := waitReady(t, s); (err != nil) != tt.wantErr {
				t.Fatalf("WaitReady() error = %v, wantErr %v", err, tt.wantErr)
			}
			mu.Lock()
			defer mu.Unlock()
			if !handled[filepath.Base(tt.path)] {
				t.Errorf("WaitReady returned before the listeners finished")
			}
		})
	}
}

func TestWaitReadyOnUnloadedStream(t *testing.T) {
	path := touch(t, t.TempDir(), "a.wav")
	backend := mediatest.NewBackend()
	backend.AddAudio(path, monoS16(1000, 10))
	release := backend.Hold(path)
	defer release()
	reg := NewAudioRegistry(backend, testOptions(t))

	s, _, _ := reg.Load(path, true)
	if err := reg.Unload(s.UID()); err != nil {
		t.Fatalf("unload failed: %v", err)
	}
	if err := waitReady(t, s); !errors.Is(err, mediaerr.ErrUnavailable) {
		t.Errorf("expected unavailable, got %v", err)
	}
}

func videoTrack() mediatest.Video {
	return mediatest.Video{
		Props: media.VideoProperties{
			FPSNum:        30000,
			FPSDen:        1001,
			EncodedWidth:  64,
			EncodedHeight: 36,
		},
		Timecodes: []float64{33.4, 0, 66.6, 100},
		Keyframes: []int{2, 0},
	}
}

func loadVideo(t *testing.T, track mediatest.Video) (*VideoStream, *mediatest.Backend) {
	t.Helper()
	path := touch(t, t.TempDir(), "v.mkv")
	backend := mediatest.NewBackend()
	backend.AddVideo(path, track)
	reg := NewVideoRegistry(backend, testOptions(t))
	s, _, err := reg.Load(path, true)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := waitReady(t, s); err != nil {
		t.Fatalf("video did not load: %v", err)
	}
	return s, backend
}

func TestVideoStreamMetadata(t *testing.T) {
	s, _ := loadVideo(t, videoTrack())

	if diff := cmp.Diff([]int64{0, 33, 67, 100}, s.Timecodes()); diff != "" {
		t.Errorf("timecodes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 2}, s.Keyframes()); diff != "" {
		t.Errorf("keyframes mismatch (-want +got):\n%s", diff)
	}
	if s.FrameRate().RatString() != "30000/1001" {
		t.Errorf("expected 30000/1001, got %s", s.FrameRate().RatString())
	}
	if s.AspectRatio().RatString() != "1" {
		t.Errorf("expected default 1:1 aspect, got %s", s.AspectRatio().RatString())
	}
	if s.Width() != 64 || s.Height() != 36 {
		t.Errorf("expected 64x36, got %dx%d", s.Width(), s.Height())
	}
	if s.MinPTS() != 0 || s.MaxPTS() != 100 {
		t.Errorf("expected 0..100, got %d..%d", s.MinPTS(), s.MaxPTS())
	}
}

func TestVideoStreamAnisotropicHeight(t *testing.T) {
	track := videoTrack()
	track.Props.EncodedWidth = 720
	track.Props.EncodedHeight = 480
	track.Props.SARNum = 8
	track.Props.SARDen = 9
	s, _ := loadVideo(t, track)

	if s.Height() != 540 {
		t.Errorf("expected corrected height 540, got %d", s.Height())
	}
	if s.AspectRatio().RatString() != "8/9" {
		t.Errorf("expected 8/9, got %s", s.AspectRatio().RatString())
	}
}

func TestGetFrame(t *testing.T) {
	s, backend := loadVideo(t, videoTrack())

	for i := 0; i < 3; i++ {
		data, err := s.GetFrame(i, 8, 4)
		if err != nil {
			t.Fatalf("GetFrame(%d) failed: %v", i, err)
		}
		if len(data) != 8*4*3 {
			t.Errorf("expected %d bytes, got %d", 8*4*3, len(data))
		}
	}
	if n := backend.FormatSets.Load(); n != 1 {
		t.Errorf("expected a single scaler setup, got %d", n)
	}
	if _, err := s.GetFrame(0, 4, 4); err != nil {
		t.Fatalf("GetFrame failed: %v", err)
	}
	if n := backend.FormatSets.Load(); n != 2 {
		t.Errorf("expected scaler to be reconfigured on size change, got %d setups", n)
	}

	for _, idx := range []int{-1, 4} {
		if _, err := s.GetFrame(idx, 8, 4); !errors.Is(err, mediaerr.ErrInvalidRange) {
			t.Errorf("GetFrame(%d): expected invalid range, got %v", idx, err)
		}
	}
}

func TestScreenshotUsesPreviousFrame(t *testing.T) {
	track := videoTrack()
	track.Timecodes = []float64{0, 33, 66, 100}
	s, backend := loadVideo(t, track)

	out := filepath.Join(t.TempDir(), "shot.png")
	if err := s.Screenshot(50, out, ScreenshotOptions{}); err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	if diff := cmp.Diff([]int{1}, backend.FrameLog()); diff != "" {
		t.Errorf("decoded frames mismatch (-want +got):\n%s", diff)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("failed to open screenshot: %v", err)
	}
	defer func() { _ = f.Close() }()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("failed to decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 36 {
		t.Errorf("expected 64x36, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestScreenshotDimensions(t *testing.T) {
	s, _ := loadVideo(t, videoTrack())

	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
		wantErr       bool
	}{
		{"full size", 0, 0, 64, 36, false},
		{"both given", 10, 10, 10, 10, false},
		{"width only", 32, 0, 32, 18, false},
		{"height only", 0, 18, 32, 18, false},
		{"negative", -1, 10, 0, 0, true},
		{"rounds to zero", 1, 0, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := s.Snapshot(0, ScreenshotOptions{Width: tt.width, Height: tt.height})
			if tt.wantErr {
				if !errors.Is(err, mediaerr.ErrInvalidDimensions) {
					t.Fatalf("expected invalid dimensions, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Snapshot failed: %v", err)
			}
			if b := img.Bounds(); b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("expected %dx%d, got %dx%d", tt.wantW, tt.wantH, b.Dx(), b.Dy())
			}
		})
	}
}

func TestVideoNotReady(t *testing.T) {
	backend := mediatest.NewBackend()
	reg := NewVideoRegistry(backend, testOptions(t))
	s, _, _ := reg.Load(filepath.Join(t.TempDir(), "missing.mkv"), true)
	_ = waitReady(t, s)

	if _, err := s.GetFrame(0, 8, 8); !errors.Is(err, mediaerr.ErrUnavailable) {
		t.Errorf("expected unavailable, got %v", err)
	}
	if s.Width() != 0 || len(s.Timecodes()) != 0 || s.MaxPTS() != 0 {
		t.Errorf("expected zero metadata on an errored stream")
	}
	if s.AlignToPrevFrame(123) != 123 {
		t.Errorf("alignment without timecodes should pass the pts through")
	}
}
