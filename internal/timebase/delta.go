package timebase

import (
	"github.com/mgpai22/subsync/internal/mediaerr"
)

// ApplyFrameDelta moves origin by delta video frames.
func ApplyFrameDelta(timecodes []int64, origin int64, delta int) (int64, error) {
	if len(timecodes) == 0 {
		return 0, mediaerr.New(mediaerr.CodeUnavailable, "frame delta",
			"timecode information is not available")
	}
	return BisectWithDelta(timecodes, origin, delta), nil
}

// ApplyKeyframeDelta moves origin by delta keyframes.
func ApplyKeyframeDelta(timecodes []int64, keyframes []int, origin int64, delta int) (int64, error) {
	candidates := KeyframeTimecodes(timecodes, keyframes)
	if len(candidates) == 0 {
		return 0, mediaerr.New(mediaerr.CodeUnavailable, "keyframe delta",
			"keyframe information is not available")
	}
	return BisectWithDelta(candidates, origin, delta), nil
}

// KeyframeTimecodes resolves keyframe indices to their timecodes,
// skipping indices outside the timecode list.
func KeyframeTimecodes(timecodes []int64, keyframes []int) []int64 {
	out := make([]int64, 0, len(keyframes))
	for _, k := range keyframes {
		if k >= 0 && k < len(timecodes) {
			out = append(out, timecodes[k])
		}
	}
	return out
}

// FramePTS returns the pts of the n-th frame (1-based, clamped).
func FramePTS(timecodes []int64, n int) (int64, error) {
	if len(timecodes) == 0 {
		return 0, mediaerr.New(mediaerr.CodeUnavailable, "frame pts",
			"timecode information is not available")
	}
	return timecodes[clampIndex(n-1, len(timecodes))], nil
}

// KeyframePTS returns the pts of the n-th keyframe (1-based, clamped).
func KeyframePTS(timecodes []int64, keyframes []int, n int) (int64, error) {
	candidates := KeyframeTimecodes(timecodes, keyframes)
	if len(candidates) == 0 {
		return 0, mediaerr.New(mediaerr.CodeUnavailable, "keyframe pts",
			"keyframe information is not available")
	}
	return candidates[clampIndex(n-1, len(candidates))], nil
}
