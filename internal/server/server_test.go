package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mgpai22/subsync/internal/app"
	"github.com/mgpai22/subsync/internal/config"
	"github.com/mgpai22/subsync/internal/media"
	"github.com/mgpai22/subsync/internal/media/mediatest"
	"github.com/mgpai22/subsync/internal/metrics"
	"github.com/mgpai22/subsync/internal/playback"
	"github.com/mgpai22/subsync/internal/spectrogram"
	"github.com/mgpai22/subsync/internal/subtitle"
	"github.com/mgpai22/subsync/internal/timeline"
)

type nopRenderer struct{}

func (nopRenderer) Render(_ context.Context, _ *subtitle.Document, width, height int, _ int64, _ *big.Rat) (*image.NRGBA, error) {
	return image.NewNRGBA(image.Rect(0, 0, width, height)), nil
}

type testServer struct {
	session *app.Session
	router  http.Handler
	media   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "episode.mkv")
	if err := os.WriteFile(path, []byte("media"), 0644); err != nil {
		t.Fatal(err)
	}

	backend := mediatest.NewBackend()
	backend.AddAudio(path, mediatest.Audio{
		Props: media.AudioProperties{
			Channels:    1,
			SampleRate:  8000,
			Format:      media.SampleFormatS16,
			SampleCount: 8000 * 4,
			LastTime:    4,
		},
		Generate: func(frame int64, _ int) float64 { return float64(frame%40) * 500 },
	})
	tc := make([]float64, 100)
	for i := range tc {
		tc[i] = float64(i * 40)
	}
	backend.AddVideo(path, mediatest.Video{
		Props:     media.VideoProperties{FPSNum: 25, FPSDen: 1, SARNum: 1, SARDen: 1, EncodedWidth: 64, EncodedHeight: 36},
		Timecodes: tc,
		Keyframes: []int{0, 50},
	})

	cfg := config.DefaultConfig()
	cfg.Cache.Enabled = false
	m := metrics.New()
	s, err := app.Open(app.Options{Config: cfg, Backend: backend, Renderer: nopRenderer{}, Metrics: m})
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return &testServer{session: s, router: NewRouter(s, nil, m), media: path}
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) loadMedia(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := ts.session.LoadMedia(ctx, ts.media); err != nil {
		t.Fatalf("failed to load media: %v", err)
	}
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestStreamEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/streams/audio", map[string]any{"path": ts.media})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeJSON[streamInfo](t, rec)
	if !created.Current || created.Path != ts.media {
		t.Errorf("unexpected stream info %+v", created)
	}

	if rec := ts.do(t, http.MethodPost, "/streams/audio", map[string]any{"path": ts.media}); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for an already loaded file, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/streams", nil)
	list := decodeJSON[streamList](t, rec)
	if len(list.Audio) != 1 || len(list.Video) != 0 {
		t.Fatalf("expected 1 audio and 0 video streams, got %+v", list)
	}

	tests := []struct {
		name   string
		method string
		target string
		body   any
		want   int
	}{
		{"bad kind", http.MethodPost, "/streams/subtitle", map[string]any{"path": ts.media}, http.StatusBadRequest},
		{"missing path", http.MethodPost, "/streams/video", map[string]any{}, http.StatusBadRequest},
		{"bad body", http.MethodPost, "/streams/video", "nope", http.StatusBadRequest},
		{"bad uid", http.MethodPost, "/streams/audio/xyz/switch", nil, http.StatusBadRequest},
		{"unknown switch", http.MethodPost, "/streams/audio/00000000-0000-0000-0000-000000000001/switch", nil, http.StatusNotFound},
		{"unknown unload", http.MethodDelete, "/streams/audio/00000000-0000-0000-0000-000000000001", nil, http.StatusNotFound},
		{"switch", http.MethodPost, "/streams/audio/" + created.UID + "/switch", nil, http.StatusNoContent},
		{"unload", http.MethodDelete, "/streams/audio/" + created.UID, nil, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.do(t, tt.method, tt.target, tt.body); rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	if ts.session.Audio.Len() != 0 {
		t.Errorf("expected no audio streams after unload, got %d", ts.session.Audio.Len())
	}
}

func TestViewEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.session.Subtitles.Append(subtitle.Event{Start: 0, End: 10000})

	steps := []struct {
		method string
		target string
		body   any
		want   timeline.State
	}{
		{http.MethodPost, "/view", map[string]any{"start": 8000, "end": 2000},
			timeline.State{Max: 10000, ViewStart: 2000, ViewEnd: 8000}},
		{http.MethodPost, "/view/zoom", map[string]any{"factor": 0.5},
			timeline.State{Max: 10000, ViewStart: 2500, ViewEnd: 7500}},
		{http.MethodPost, "/view/move", map[string]any{"distance": -5000},
			timeline.State{Max: 10000, ViewStart: 0, ViewEnd: 5000}},
		{http.MethodPost, "/selection", map[string]any{"start": 100, "end": 300},
			timeline.State{Max: 10000, ViewEnd: 5000, SelectionStart: 100, SelectionEnd: 300, HasSelection: true}},
		{http.MethodDelete, "/selection", nil,
			timeline.State{Max: 10000, ViewEnd: 5000}},
		{http.MethodGet, "/view", nil,
			timeline.State{Max: 10000, ViewEnd: 5000}},
	}
	for _, step := range steps {
		rec := ts.do(t, step.method, step.target, step.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s %s: expected 200, got %d", step.method, step.target, rec.Code)
		}
		got := decodeJSON[timeline.State](t, rec)
		if diff := cmp.Diff(step.want, got); diff != "" {
			t.Errorf("%s %s: state mismatch (-want +got):\n%s", step.method, step.target, diff)
		}
	}
}

func TestAlign(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(t, http.MethodGet, "/align?pts=50", nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 without video, got %d", rec.Code)
	}

	ts.loadMedia(t)

	rec := ts.do(t, http.MethodGet, "/align?pts=50&delta=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	want := alignResponse{PTS: 50, Prev: 40, Next: 80, Near: 40, Frame: 1, Delta: &deltaResult{Frames: 80, Keyframes: 2000}}
	if diff := cmp.Diff(want, decodeJSON[alignResponse](t, rec)); diff != "" {
		t.Errorf("align mismatch (-want +got):\n%s", diff)
	}

	if rec := ts.do(t, http.MethodGet, "/align?pts=0:00:00.040", nil); rec.Code != http.StatusOK {
		t.Errorf("expected clock pts to be accepted, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/align", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without pts, got %d", rec.Code)
	}
}

func TestSpectrogramImage(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(t, http.MethodGet, "/spectrogram.png?start=0&end=1000&width=20", nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 without audio, got %d", rec.Code)
	}

	ts.loadMedia(t)

	rec := ts.do(t, http.MethodGet, "/spectrogram.png?start=0&end=1000&width=20", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("failed to decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != spectrogram.Bins {
		t.Errorf("expected 20x%d, got %v", spectrogram.Bins, b)
	}

	for _, target := range []string{
		"/spectrogram.png?start=0&end=1000&width=0",
		"/spectrogram.png?start=1000&end=0",
		"/spectrogram.png?start=abc",
	} {
		if rec := ts.do(t, http.MethodGet, target, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestSpectrogramWhileAudioOpens(t *testing.T) {
	ts := newTestServer(t)
	if _, err := ts.session.LoadAudio(ts.media); err != nil {
		t.Fatalf("failed to load audio: %v", err)
	}

	rec := ts.do(t, http.MethodGet, "/spectrogram.png?start=0&end=1000&width=20", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("failed to decode png: %v", err)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("expected a grey image, got %T", img)
	}
	lit := false
	for _, v := range gray.Pix {
		if v != 0 {
			lit = true
			break
		}
	}
	if !lit {
		t.Errorf("expected a non-black spectrogram")
	}
	if ts.session.Spectrogram.Cached() == 0 {
		t.Errorf("expected the filled columns to stay cached")
	}
}

func TestPlaybackEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/playback/volume", map[string]any{"volume": 250})
	state := decodeJSON[playbackState](t, rec)
	if state.Volume != 200 {
		t.Errorf("expected clamped volume 200, got %d", state.Volume)
	}
	if got := ts.session.Spectrogram.Volume(); got != 200 {
		t.Errorf("expected spectrogram volume 200, got %d", got)
	}

	var seeks []int64
	ts.session.Playback.SeekRequested.Connect(func(r playback.SeekRequest) { seeks = append(seeks, r.PTS) })
	if rec := ts.do(t, http.MethodPost, "/playback/seek", map[string]any{"pts": 1500}); rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}
	if diff := cmp.Diff([]int64{1500}, seeks); diff != "" {
		t.Errorf("seek mismatch (-want +got):\n%s", diff)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/view", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `subsync_http_requests_total{code="200"}`) {
		t.Errorf("expected request counter in metrics output")
	}
}
