// Package playback holds player state and turns imperative requests (seek,
// play, pause) into signals for whatever player front end is attached.
package playback

import (
	"sync"

	"github.com/mgpai22/subsync/internal/event"
	"github.com/mgpai22/subsync/internal/stream"
)

const (
	MinVolume     = 0
	MaxVolume     = 200
	DefaultVolume = 100

	MinSpeed = 0.1
	MaxSpeed = 10
)

type SeekRequest struct {
	PTS     int64
	Precise bool
}

// PlayRequest asks the player to play from Start. A nil End plays to the
// end of the media.
type PlayRequest struct {
	Start int64
	End   *int64
}

// Controller is safe for concurrent use. Signals fire outside its lock.
type Controller struct {
	audio *stream.AudioRegistry
	video *stream.VideoRegistry

	mu     sync.Mutex
	pts    int64
	paused bool
	muted  bool
	volume int
	speed  float64

	SeekRequested     event.Signal[SeekRequest]
	PlaybackRequested event.Signal[PlayRequest]
	CurrentPTSChanged event.Signal[int64]
	PauseChanged      event.Signal[bool]
	MuteChanged       event.Signal[bool]
	VolumeChanged     event.Signal[int]
	SpeedChanged      event.Signal[float64]
}

// New starts paused at volume 100 and normal speed. Either registry may be
// nil.
func New(audio *stream.AudioRegistry, video *stream.VideoRegistry) *Controller {
	return &Controller{
		audio:  audio,
		video:  video,
		paused: true,
		volume: DefaultVolume,
		speed:  1,
	}
}

// Seek asks the player to jump to pts, clamped at zero. Seeking to the
// current position does nothing.
func (c *Controller) Seek(pts int64, precise bool) {
	pts = max(0, pts)
	if pts == c.CurrentPTS() {
		return
	}
	c.SeekRequested.Emit(SeekRequest{PTS: pts, Precise: precise})
}

// Play asks the player to play [start, end).
func (c *Controller) Play(start int64, end *int64) {
	c.PlaybackRequested.Emit(PlayRequest{Start: start, End: end})
}

func (c *Controller) Pause() {
	c.SetPaused(true)
}

func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Controller) SetPaused(paused bool) {
	c.mu.Lock()
	changed := c.paused != paused
	c.paused = paused
	c.mu.Unlock()
	if changed {
		c.PauseChanged.Emit(paused)
	}
}

func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	changed := c.muted != muted
	c.muted = muted
	c.mu.Unlock()
	if changed {
		c.MuteChanged.Emit(muted)
	}
}

func (c *Controller) Volume() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// SetVolume clamps into [MinVolume, MaxVolume].
func (c *Controller) SetVolume(volume int) {
	volume = max(MinVolume, min(MaxVolume, volume))
	c.mu.Lock()
	changed := c.volume != volume
	c.volume = volume
	c.mu.Unlock()
	if changed {
		c.VolumeChanged.Emit(volume)
	}
}

func (c *Controller) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetSpeed clamps into [MinSpeed, MaxSpeed].
func (c *Controller) SetSpeed(speed float64) {
	speed = max(MinSpeed, min(MaxSpeed, speed))
	c.mu.Lock()
	changed := c.speed != speed
	c.speed = speed
	c.mu.Unlock()
	if changed {
		c.SpeedChanged.Emit(speed)
	}
}

func (c *Controller) CurrentPTS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pts
}

// ReportPTS is called by the player when its position moves.
func (c *Controller) ReportPTS(pts int64) {
	c.mu.Lock()
	changed := c.pts != pts
	c.pts = pts
	c.mu.Unlock()
	if changed {
		c.CurrentPTSChanged.Emit(pts)
	}
}

// MaxPTS is the furthest position of the current video or audio stream, or
// zero when neither is loaded.
func (c *Controller) MaxPTS() int64 {
	var out int64
	if c.video != nil {
		if s, ok := c.video.Current(); ok {
			out = max(out, s.MaxPTS())
		}
	}
	if c.audio != nil {
		if s, ok := c.audio.Current(); ok {
			out = max(out, s.MaxTime())
		}
	}
	return out
}
