package timeline

import (
	"github.com/mgpai22/subsync/internal/stream"
	"github.com/mgpai22/subsync/internal/subtitle"
)

// AudioExtent reaches to the end of the current audio stream.
func AudioExtent(reg *stream.AudioRegistry) Extent {
	return ExtentFunc(func() int64 {
		if s, ok := reg.Current(); ok {
			return s.MaxTime()
		}
		return 0
	})
}

// VideoExtent reaches to the last frame of the current video stream.
func VideoExtent(reg *stream.VideoRegistry) Extent {
	return ExtentFunc(func() int64 {
		if s, ok := reg.Current(); ok {
			return s.MaxPTS()
		}
		return 0
	})
}

// SubtitleExtent reaches to the furthest event boundary.
func SubtitleExtent(list *subtitle.EventList) Extent {
	return ExtentFunc(func() int64 {
		lo, hi, ok := list.Bounds()
		if !ok {
			return 0
		}
		return max(lo, hi)
	})
}

// Bind refits v whenever the current audio or video stream finishes loading
// or changes, and whenever the subtitle list changes. Any argument may be
// nil. The returned function disconnects everything.
func Bind(v *View, audio *stream.AudioRegistry, video *stream.VideoRegistry, subs *subtitle.EventList) func() {
	var disconnect []func()
	reset := func() { v.ResetView() }

	if audio != nil {
		sig := audio.Signals()
		disconnect = append(disconnect,
			sig.Loaded.Connect(func(s *stream.AudioStream) {
				if cur, ok := audio.Current(); ok && cur == s {
					reset()
				}
			}),
			sig.CurrentSwitched.Connect(func(*stream.AudioStream) { reset() }),
		)
	}
	if video != nil {
		sig := video.Signals()
		disconnect = append(disconnect,
			sig.Loaded.Connect(func(s *stream.VideoStream) {
				if cur, ok := video.Current(); ok && cur == s {
					reset()
				}
			}),
			sig.CurrentSwitched.Connect(func(*stream.VideoStream) { reset() }),
		)
	}
	if subs != nil {
		disconnect = append(disconnect, subs.Changed.Connect(func(struct{}) { reset() }))
	}

	return func() {
		for _, d := range disconnect {
			d()
		}
	}
}
