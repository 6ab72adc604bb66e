package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mgpai22/subsync/internal/app"
	"github.com/mgpai22/subsync/internal/logging"
	"github.com/mgpai22/subsync/internal/mediaerr"
	"github.com/mgpai22/subsync/internal/stream"
	"github.com/mgpai22/subsync/internal/timebase"
)

const defaultImageWidth = 800

// Handler maps HTTP requests onto a session.
type Handler struct {
	session *app.Session
	log     *logging.Logger
}

func NewHandler(s *app.Session, log *logging.Logger) *Handler {
	return &Handler{session: s, log: logging.OrNop(log)}
}

type streamInfo struct {
	UID     string `json:"uid"`
	Path    string `json:"path"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
	Current bool   `json:"current"`

	SampleRate  int    `json:"sample_rate,omitempty"`
	Channels    int    `json:"channels,omitempty"`
	SampleCount int64  `json:"sample_count,omitempty"`
	Format      string `json:"sample_format,omitempty"`
	Delay       int64  `json:"delay,omitempty"`

	FrameCount int    `json:"frame_count,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	FrameRate  string `json:"frame_rate,omitempty"`

	MinPTS int64 `json:"min_pts"`
	MaxPTS int64 `json:"max_pts"`
}

type streamList struct {
	Audio []streamInfo `json:"audio"`
	Video []streamInfo `json:"video"`
}

func baseInfo(s stream.Stream, current bool) streamInfo {
	info := streamInfo{
		UID:     s.UID().String(),
		Path:    s.Path(),
		State:   s.State().String(),
		Current: current,
	}
	if err := s.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

func audioInfo(s *stream.AudioStream, current bool) streamInfo {
	info := baseInfo(s, current)
	info.SampleRate = s.SampleRate()
	info.Channels = s.ChannelCount()
	info.SampleCount = s.SampleCount()
	info.Format = s.SampleFormat().String()
	info.Delay = s.Delay()
	info.MinPTS = s.MinTime()
	info.MaxPTS = s.MaxTime()
	return info
}

func videoInfo(s *stream.VideoStream, current bool) streamInfo {
	info := baseInfo(s, current)
	info.FrameCount = s.FrameCount()
	info.Width = s.Width()
	info.Height = s.Height()
	if fps := s.FrameRate(); fps.Sign() > 0 {
		info.FrameRate = fps.RatString()
	}
	info.MinPTS = s.MinPTS()
	info.MaxPTS = s.MaxPTS()
	return info
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch mediaerr.CodeOf(err) {
	case mediaerr.CodeNotFound, mediaerr.CodeSourceNotFound:
		status = http.StatusNotFound
	case mediaerr.CodeInvalidRange, mediaerr.CodeInvalidDimensions:
		status = http.StatusBadRequest
	case mediaerr.CodeUnavailable:
		status = http.StatusConflict
	case mediaerr.CodeDecode:
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.log.Errorw("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

// ListStreams handles GET /streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	out := streamList{Audio: []streamInfo{}, Video: []streamInfo{}}

	cur, hasCur := h.session.Audio.Current()
	for _, s := range h.session.Audio.Streams() {
		out.Audio = append(out.Audio, audioInfo(s, hasCur && cur == s))
	}
	curV, hasCurV := h.session.Video.Current()
	for _, s := range h.session.Video.Streams() {
		out.Video = append(out.Video, videoInfo(s, hasCurV && curV == s))
	}
	writeJSON(w, http.StatusOK, out)
}

type loadRequest struct {
	Path   string `json:"path"`
	Switch *bool  `json:"switch,omitempty"`
}

// LoadStream handles POST /streams/{kind}. Body: {"path": "...", "switch": true}.
// Answers 201 for a new stream and 200 when the file was already loaded.
func (h *Handler) LoadStream(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	if req.Path == "" {
		badRequest(w, "path is required")
		return
	}
	switchTo := req.Switch == nil || *req.Switch

	status := http.StatusOK
	switch kind := chi.URLParam(r, "kind"); kind {
	case "audio":
		s, created, err := h.session.Audio.Load(req.Path, switchTo)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if created {
			status = http.StatusCreated
		}
		cur, ok := h.session.Audio.Current()
		writeJSON(w, status, audioInfo(s, ok && cur == s))
	case "video":
		s, created, err := h.session.Video.Load(req.Path, switchTo)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if created {
			status = http.StatusCreated
		}
		cur, ok := h.session.Video.Current()
		writeJSON(w, status, videoInfo(s, ok && cur == s))
	default:
		badRequest(w, "unknown stream kind %q", kind)
	}
}

type registry interface {
	Switch(uid uuid.UUID) error
	Unload(uid uuid.UUID) error
	Contains(uid uuid.UUID) bool
}

func (h *Handler) registry(w http.ResponseWriter, r *http.Request) (registry, uuid.UUID, bool) {
	var reg registry
	switch kind := chi.URLParam(r, "kind"); kind {
	case "audio":
		reg = h.session.Audio
	case "video":
		reg = h.session.Video
	default:
		badRequest(w, "unknown stream kind %q", kind)
		return nil, uuid.Nil, false
	}
	uid, err := uuid.Parse(chi.URLParam(r, "uid"))
	if err != nil {
		badRequest(w, "invalid uid: %v", err)
		return nil, uuid.Nil, false
	}
	return reg, uid, true
}

// SwitchStream handles POST /streams/{kind}/{uid}/switch.
func (h *Handler) SwitchStream(w http.ResponseWriter, r *http.Request) {
	reg, uid, ok := h.registry(w, r)
	if !ok {
		return
	}
	if err := reg.Switch(uid); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnloadStream handles DELETE /streams/{kind}/{uid}.
func (h *Handler) UnloadStream(w http.ResponseWriter, r *http.Request) {
	reg, uid, ok := h.registry(w, r)
	if !ok {
		return
	}
	if !reg.Contains(uid) {
		h.writeError(w, mediaerr.Newf(mediaerr.CodeNotFound, "unload", "no stream %s", uid))
		return
	}
	if err := reg.Unload(uid); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rangeRequest struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// GetView handles GET /view.
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Timeline.State())
}

// SetView handles POST /view. Body: {"start": 0, "end": 5000}.
func (h *Handler) SetView(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	h.session.Timeline.SetView(req.Start, req.End)
	writeJSON(w, http.StatusOK, h.session.Timeline.State())
}

// ZoomView handles POST /view/zoom. Body: {"factor": 0.5, "origin": 0.5}.
func (h *Handler) ZoomView(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Factor float64  `json:"factor"`
		Origin *float64 `json:"origin,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	origin := 0.5
	if req.Origin != nil {
		origin = *req.Origin
	}
	h.session.Timeline.ZoomView(req.Factor, origin)
	writeJSON(w, http.StatusOK, h.session.Timeline.State())
}

// MoveView handles POST /view/move. Body: {"distance": -1000}.
func (h *Handler) MoveView(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Distance int64 `json:"distance"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	h.session.Timeline.MoveView(req.Distance)
	writeJSON(w, http.StatusOK, h.session.Timeline.State())
}

// Select handles POST /selection. Body: {"start": 1000, "end": 2000}.
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	h.session.Timeline.Select(req.Start, req.End)
	writeJSON(w, http.StatusOK, h.session.Timeline.State())
}

// Unselect handles DELETE /selection.
func (h *Handler) Unselect(w http.ResponseWriter, r *http.Request) {
	h.session.Timeline.Unselect()
	writeJSON(w, http.StatusOK, h.session.Timeline.State())
}

func (h *Handler) currentVideo(w http.ResponseWriter) (*stream.VideoStream, bool) {
	v, ok := h.session.Video.Current()
	if !ok || !v.IsReady() {
		h.writeError(w, mediaerr.New(mediaerr.CodeUnavailable, "video", "no video is loaded"))
		return nil, false
	}
	return v, true
}

func queryInt(r *http.Request, key string, fallback int64) (int64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return fallback, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	pts, err := timebase.ParsePTS(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return pts, nil
}

// deltaResult is where a jump of delta frames or keyframes lands.
type deltaResult struct {
	Frames    int64 `json:"frames"`
	Keyframes int64 `json:"keyframes"`
}

type alignResponse struct {
	PTS   int64        `json:"pts"`
	Prev  int64        `json:"prev"`
	Next  int64        `json:"next"`
	Near  int64        `json:"near"`
	Frame int          `json:"frame"`
	Delta *deltaResult `json:"delta,omitempty"`
}

// Align handles GET /align?pts=1234[&delta=N]. pts also accepts
// h:mm:ss.mmm.
func (h *Handler) Align(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("pts") == "" {
		badRequest(w, "pts is required")
		return
	}
	pts, err := queryInt(r, "pts", 0)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	v, ok := h.currentVideo(w)
	if !ok {
		return
	}

	out := alignResponse{
		PTS:   pts,
		Prev:  v.AlignToPrevFrame(pts),
		Next:  v.AlignToNextFrame(pts),
		Near:  v.AlignToNearFrame(pts),
		Frame: v.FrameIndexFromPTS(pts),
	}
	if r.URL.Query().Has("delta") {
		delta, err := strconv.Atoi(r.URL.Query().Get("delta"))
		if err != nil {
			badRequest(w, "invalid delta: %v", err)
			return
		}
		frames, err := timebase.ApplyFrameDelta(v.Timecodes(), pts, delta)
		if err != nil {
			h.writeError(w, err)
			return
		}
		keyframes, err := timebase.ApplyKeyframeDelta(v.Timecodes(), v.Keyframes(), pts, delta)
		if err != nil {
			h.writeError(w, err)
			return
		}
		out.Delta = &deltaResult{Frames: frames, Keyframes: keyframes}
	}
	writeJSON(w, http.StatusOK, out)
}

// imageRange reads start, end and width, defaulting to the current view.
func (h *Handler) imageRange(r *http.Request) (start, end int64, width int, err error) {
	view := h.session.Timeline.State()
	if start, err = queryInt(r, "start", view.ViewStart); err != nil {
		return
	}
	if end, err = queryInt(r, "end", view.ViewEnd); err != nil {
		return
	}
	w, err := queryInt(r, "width", defaultImageWidth)
	if err != nil {
		return
	}
	if w <= 0 {
		err = mediaerr.Newf(mediaerr.CodeInvalidDimensions, "image", "invalid width %d", w)
		return
	}
	if end < start {
		err = mediaerr.Newf(mediaerr.CodeInvalidRange, "image", "end %d before start %d", end, start)
		return
	}
	return start, end, int(w), nil
}

// Spectrogram handles GET /spectrogram.png?start=&end=&width=. Missing
// columns are computed before responding.
func (h *Handler) Spectrogram(w http.ResponseWriter, r *http.Request) {
	start, end, width, err := h.imageRange(r)
	if err != nil {
		h.writeRangeError(w, err)
		return
	}
	audio, ok := h.session.Audio.Current()
	if !ok {
		h.writeError(w, mediaerr.New(mediaerr.CodeUnavailable, "spectrogram", "no audio is loaded"))
		return
	}
	// a stream still opening would reset the cache under Fill
	if err := audio.WaitReady(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	engine := h.session.Spectrogram
	if err := engine.Fill(r.Context(), start, end, width); err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, engine.RenderImage(start, end, width)); err != nil {
		h.log.Warnw("failed to write spectrogram", "error", err)
	}
}

// Band handles GET /band.png?start=&end=&width= for the current video.
func (h *Handler) Band(w http.ResponseWriter, r *http.Request) {
	start, end, width, err := h.imageRange(r)
	if err != nil {
		h.writeRangeError(w, err)
		return
	}
	v, ok := h.currentVideo(w)
	if !ok {
		return
	}
	img, err := h.session.Band.RenderImage(v.UID(), start, end, width)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		h.log.Warnw("failed to write band", "error", err)
	}
}

func (h *Handler) writeRangeError(w http.ResponseWriter, err error) {
	var coded *mediaerr.Error
	if errors.As(err, &coded) {
		h.writeError(w, err)
		return
	}
	badRequest(w, "%v", err)
}

type playbackState struct {
	PTS    int64   `json:"pts"`
	MaxPTS int64   `json:"max_pts"`
	Paused bool    `json:"paused"`
	Muted  bool    `json:"muted"`
	Volume int     `json:"volume"`
	Speed  float64 `json:"speed"`
}

func (h *Handler) playbackState() playbackState {
	p := h.session.Playback
	return playbackState{
		PTS:    p.CurrentPTS(),
		MaxPTS: p.MaxPTS(),
		Paused: p.Paused(),
		Muted:  p.Muted(),
		Volume: p.Volume(),
		Speed:  p.Speed(),
	}
}

// GetPlayback handles GET /playback.
func (h *Handler) GetPlayback(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.playbackState())
}

// Seek handles POST /playback/seek. Body: {"pts": 1000, "precise": true}.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PTS     int64 `json:"pts"`
		Precise bool  `json:"precise"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	h.session.Playback.Seek(req.PTS, req.Precise)
	w.WriteHeader(http.StatusAccepted)
}

// SetVolume handles POST /playback/volume. Body: {"volume": 80}.
func (h *Handler) SetVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume int `json:"volume"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	h.session.Playback.SetVolume(req.Volume)
	writeJSON(w, http.StatusOK, h.playbackState())
}
