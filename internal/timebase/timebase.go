// Package timebase converts between presentation timestamps (integer
// milliseconds) and frame positions. Every function expects timecodes
// sorted ascending and never mutates its input.
package timebase

import (
	"math"
	"sort"
)

// index of the first timecode >= pts
func bisectLeft(timecodes []int64, pts int64) int {
	return sort.Search(len(timecodes), func(i int) bool {
		return timecodes[i] >= pts
	})
}

// index of the first timecode > pts
func bisectRight(timecodes []int64, pts int64) int {
	return sort.Search(len(timecodes), func(i int) bool {
		return timecodes[i] > pts
	})
}

func clampIndex(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

// AlignToNextFrame returns the smallest timecode >= pts. Past the last
// frame, or with no timecodes at all, pts is returned unchanged.
func AlignToNextFrame(timecodes []int64, pts int64) int64 {
	idx := bisectLeft(timecodes, pts)
	if idx >= len(timecodes) {
		return pts
	}
	return timecodes[idx]
}

// AlignToPrevFrame returns the largest timecode <= pts. Before the first
// frame pts passes through; past the last frame it clamps to the last one.
func AlignToPrevFrame(timecodes []int64, pts int64) int64 {
	idx := bisectRight(timecodes, pts) - 1
	if idx < 0 {
		return pts
	}
	return timecodes[idx]
}

// AlignToNearFrame picks whichever neighbouring timecode is closer to pts.
// Ties go to the earlier frame.
func AlignToNearFrame(timecodes []int64, pts int64) int64 {
	n := len(timecodes)
	if n == 0 {
		return pts
	}
	prev := timecodes[clampIndex(bisectRight(timecodes, pts)-1, n)]
	next := timecodes[clampIndex(bisectLeft(timecodes, pts), n)]
	if absDiff(pts, prev) <= absDiff(pts, next) {
		return prev
	}
	return next
}

// FrameIndexFromPTS maps pts to the index of the frame displayed at that
// time. A pts before the first frame still maps to frame 0; an empty list
// maps everything to -1.
func FrameIndexFromPTS(timecodes []int64, pts int64) int {
	if len(timecodes) == 0 {
		return -1
	}
	idx := bisectRight(timecodes, pts) - 1
	if idx < 0 {
		return 0
	}
	return idx
}

// FrameIndicesFromPTS is the batch form of FrameIndexFromPTS, accepting
// fractional pts as produced by pixel to time conversions.
func FrameIndicesFromPTS(timecodes []int64, pts []float64) []int {
	out := make([]int, len(pts))
	n := len(timecodes)
	for i, p := range pts {
		if n == 0 {
			out[i] = -1
			continue
		}
		idx := sort.Search(n, func(j int) bool {
			return float64(timecodes[j]) > p
		}) - 1
		if idx < 0 {
			idx = 0
		}
		out[i] = idx
	}
	return out
}

// BisectWithDelta jumps delta positions away from origin within sorted.
// For delta >= 0 the first step lands on the leftmost value strictly
// greater than origin (delta 0 stays on the value at or before origin).
// For delta < 0 the first step lands on the rightmost value strictly less
// than origin. The resulting index is clamped into range; an empty list
// returns origin.
func BisectWithDelta(sorted []int64, origin int64, delta int) int64 {
	n := len(sorted)
	if n == 0 {
		return origin
	}
	var idx int
	if delta >= 0 {
		idx = bisectRight(sorted, origin) + delta - 1
	} else {
		idx = bisectLeft(sorted, origin) + delta
	}
	return sorted[clampIndex(idx, n)]
}

// RoundMS converts a float millisecond value to the nearest integer PTS.
func RoundMS(ms float64) int64 {
	return int64(math.Round(ms))
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
