// Package timeline tracks the visible window and the selection over the
// shared audio, video and subtitle timeline.
package timeline

import (
	"sync"

	"github.com/mgpai22/subsync/internal/event"
)

const minZoom = 0.001

// Extent reports how far a timeline source reaches, in ms.
type Extent interface {
	MaxPTS() int64
}

// ExtentFunc adapts a function to Extent.
type ExtentFunc func() int64

func (f ExtentFunc) MaxPTS() int64 { return f() }

// State is a snapshot of a View.
type State struct {
	Min            int64 `json:"min"`
	Max            int64 `json:"max"`
	ViewStart      int64 `json:"view_start"`
	ViewEnd        int64 `json:"view_end"`
	SelectionStart int64 `json:"selection_start"`
	SelectionEnd   int64 `json:"selection_end"`
	HasSelection   bool  `json:"has_selection"`
}

// View holds the visible window and the selection. Both are always clipped
// into [Min, Max].
type View struct {
	mu       sync.Mutex
	extents  []Extent
	follow   FollowConfig
	min      int64
	max      int64
	start    int64
	end      int64
	selStart int64
	selEnd   int64
	selected bool

	ViewChanged      event.Signal[struct{}]
	SelectionChanged event.Signal[struct{}]
}

// New builds a view over the given extents and fits it to them.
func New(follow FollowConfig, extents ...Extent) *View {
	if follow.Mode == "" {
		follow.Mode = FollowDynamic
	}
	v := &View{extents: extents, follow: follow}
	v.ResetView()
	return v
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return State{
		Min:            v.min,
		Max:            v.max,
		ViewStart:      v.start,
		ViewEnd:        v.end,
		SelectionStart: v.selStart,
		SelectionEnd:   v.selEnd,
		HasSelection:   v.selected,
	}
}

func (v *View) Min() int64 { return v.State().Min }
func (v *View) Max() int64 { return v.State().Max }
func (v *View) Size() int64 {
	s := v.State()
	return s.Max - s.Min
}
func (v *View) ViewStart() int64 { return v.State().ViewStart }
func (v *View) ViewEnd() int64 { return v.State().ViewEnd }
func (v *View) ViewSize() int64 {
	s := v.State()
	return s.ViewEnd - s.ViewStart
}
func (v *View) SelectionStart() int64 { return v.State().SelectionStart }
func (v *View) SelectionEnd() int64 { return v.State().SelectionEnd }
func (v *View) SelectionSize() int64 {
	s := v.State()
	return s.SelectionEnd - s.SelectionStart
}

// HasSelection is false after construction and after Unselect, even when
// a selection of zero width at the origin would look the same.
func (v *View) HasSelection() bool { return v.State().HasSelection }

func (v *View) clip(value float64) int64 {
	return max(min(v.max, int64(value)), v.min)
}

// SetView shows [start, end], swapping the ends if needed.
func (v *View) SetView(start, end int64) {
	v.mu.Lock()
	v.viewLocked(start, end)
	v.mu.Unlock()
	v.ViewChanged.Emit(struct{}{})
}

func (v *View) viewLocked(start, end int64) {
	if start > end {
		start, end = end, start
	}
	v.start = v.clip(float64(start))
	v.end = v.clip(float64(end))
}

// ZoomView resizes the window to factor of the full extent, keeping the
// point at origin (0..1 across the window) in place.
func (v *View) ZoomView(factor, origin float64) {
	v.mu.Lock()
	v.zoomLocked(factor, origin)
	v.mu.Unlock()
	v.ViewChanged.Emit(struct{}{})
}

func (v *View) zoomLocked(factor, origin float64) {
	factor = max(minZoom, min(1, factor))
	oldOrigin := float64(v.start - v.min)
	oldViewSize := float64(v.end-v.start) * origin
	v.start = v.min
	v.end = v.clip(float64(v.min) + float64(v.max-v.min)*factor)
	newViewSize := float64(v.end-v.start) * origin
	v.moveLocked(int64(oldOrigin - newViewSize + oldViewSize))
}

// MoveView pans by distance. A pan past either bound stops flush against
// it without shrinking the window.
func (v *View) MoveView(distance int64) {
	v.mu.Lock()
	v.moveLocked(distance)
	v.mu.Unlock()
	v.ViewChanged.Emit(struct{}{})
}

func (v *View) moveLocked(distance int64) {
	size := v.end - v.start
	switch {
	case v.start+distance < v.min:
		v.viewLocked(v.min, v.min+size)
	case v.end+distance > v.max:
		v.viewLocked(v.max-size, v.max)
	default:
		v.viewLocked(v.start+distance, v.end+distance)
	}
}

func (v *View) Select(start, end int64) {
	v.mu.Lock()
	v.selectLocked(start, end)
	v.mu.Unlock()
	v.SelectionChanged.Emit(struct{}{})
}

func (v *View) selectLocked(start, end int64) {
	if start > end {
		start, end = end, start
	}
	v.selStart = v.clip(float64(start))
	v.selEnd = v.clip(float64(end))
	v.selected = true
}

func (v *View) Unselect() {
	v.mu.Lock()
	v.unselectLocked()
	v.mu.Unlock()
	v.SelectionChanged.Emit(struct{}{})
}

func (v *View) unselectLocked() {
	v.selStart = v.min
	v.selEnd = v.min
	v.selected = false
}

// ResetView recomputes the bounds from scratch and shows everything.
func (v *View) ResetView() {
	v.mu.Lock()
	v.min, v.max = 0, 0
	v.extendLocked()
	v.zoomLocked(1, 0.5)
	v.mu.Unlock()
	v.ViewChanged.Emit(struct{}{})
}

// ExtendView grows Max to cover every extent without touching the window.
func (v *View) ExtendView() {
	v.mu.Lock()
	v.extendLocked()
	v.mu.Unlock()
}

func (v *View) extendLocked() {
	v.min = 0
	for _, e := range v.extents {
		v.max = max(v.max, e.MaxPTS())
	}
}
