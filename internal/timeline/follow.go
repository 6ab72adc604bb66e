package timeline

import (
	"fmt"

	"github.com/mgpai22/subsync/internal/subtitle"
)

// FollowMode decides how the window tracks selected subtitles.
type FollowMode string

const (
	FollowNone     FollowMode = "none"
	FollowDynamic  FollowMode = "dynamic"
	FollowConstant FollowMode = "constant"
)

// ParseFollowMode accepts none, dynamic or constant.
func ParseFollowMode(s string) (FollowMode, error) {
	switch m := FollowMode(s); m {
	case FollowNone, FollowDynamic, FollowConstant:
		return m, nil
	case "":
		return FollowDynamic, nil
	default:
		return "", fmt.Errorf("unknown follow mode %q", s)
	}
}

// FollowConfig durations are in ms. A zero MaxWindow means unbounded.
type FollowConfig struct {
	Mode      FollowMode `yaml:"mode"`
	LeadIn    int64      `yaml:"lead_in"`
	LeadOut   int64      `yaml:"lead_out"`
	MinWindow int64      `yaml:"min_window"`
	MaxWindow int64      `yaml:"max_window"`
	Window    int64      `yaml:"window"`
}

func DefaultFollowConfig() FollowConfig {
	return FollowConfig{
		Mode:    FollowDynamic,
		LeadIn:  10000,
		LeadOut: 10000,
		Window:  20000,
	}
}

// Follow selects the span of events and moves the window onto it according
// to the follow mode. With no events the selection is cleared and the
// window stays put.
func (v *View) Follow(events []subtitle.Event) {
	if len(events) == 0 {
		v.Unselect()
		return
	}

	first, last := events[0].Start, events[0].End
	for _, ev := range events[1:] {
		first = min(first, ev.Start)
		last = max(last, ev.End)
	}

	v.mu.Lock()
	cfg := v.follow
	moved := true
	switch cfg.Mode {
	case FollowDynamic:
		start, end := first-cfg.LeadIn, last+cfg.LeadOut
		start, end = fitWindow(start, end, cfg.MinWindow, cfg.MaxWindow)
		v.viewLocked(start, end)
	case FollowConstant:
		mid := first + (last-first)/2
		v.viewLocked(mid-cfg.Window/2, mid+cfg.Window-cfg.Window/2)
	default:
		moved = false
	}
	v.selectLocked(first, last)
	v.mu.Unlock()

	if moved {
		v.ViewChanged.Emit(struct{}{})
	}
	v.SelectionChanged.Emit(struct{}{})
}

// fitWindow grows or shrinks [start, end] around its midpoint so its width
// lands in [lo, hi].
func fitWindow(start, end, lo, hi int64) (int64, int64) {
	width := end - start
	target := width
	if lo > 0 && target < lo {
		target = lo
	}
	if hi > 0 && target > hi {
		target = hi
	}
	if target == width {
		return start, end
	}
	mid := start + width/2
	return mid - target/2, mid + target - target/2
}

// SetFollow replaces the follow configuration.
func (v *View) SetFollow(cfg FollowConfig) {
	if cfg.Mode == "" {
		cfg.Mode = FollowDynamic
	}
	v.mu.Lock()
	v.follow = cfg
	v.mu.Unlock()
}

func (v *View) Following() FollowConfig {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.follow
}
