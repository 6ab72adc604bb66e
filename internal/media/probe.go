package media

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// JSON output from ffprobe -show_streams -show_format
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration  string `json:"duration"`
		StartTime string `json:"start_time"`
	} `json:"format"`
}

type probeStream struct {
	Index             int    `json:"index"`
	CodecType         string `json:"codec_type"`
	CodecName         string `json:"codec_name"`
	SampleFmt         string `json:"sample_fmt"`
	SampleRate        string `json:"sample_rate"`
	Channels          int    `json:"channels"`
	BitsPerRawSample  string `json:"bits_per_raw_sample"`
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	RFrameRate        string `json:"r_frame_rate"`
	AvgFrameRate      string `json:"avg_frame_rate"`
	SampleAspectRatio string `json:"sample_aspect_ratio"`
	StartTime         string `json:"start_time"`
	Duration          string `json:"duration"`
}

// JSON output from ffprobe -show_entries packet=pts_time,flags
type packetOutput struct {
	Packets []struct {
		PTSTime string `json:"pts_time"`
		Flags   string `json:"flags"`
	} `json:"packets"`
}

func parseProbe(data []byte) (*probeOutput, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &out, nil
}

func (p *probeOutput) firstStream(kind string) (probeStream, bool) {
	for _, s := range p.Streams {
		if s.CodecType == kind {
			return s, true
		}
	}
	return probeStream{}, false
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// splits "num/den" or "num:den", zero on malformed input
func parseRatio(s string) (int64, int64) {
	sep := "/"
	if strings.Contains(s, ":") {
		sep = ":"
	}
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return 0, 0
	}
	num, err1 := strconv.ParseInt(parts[0], 10, 64)
	den, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return num, den
}

// decoded sample format plus the ffmpeg muxer/codec that produces it raw
type rawFormat struct {
	format SampleFormat
	muxer  string
	codec  string
}

func rawFormatFor(sampleFmt string) rawFormat {
	switch strings.TrimSuffix(sampleFmt, "p") {
	case "u8":
		return rawFormat{SampleFormatU8, "u8", "pcm_u8"}
	case "s16":
		return rawFormat{SampleFormatS16, "s16le", "pcm_s16le"}
	case "s32":
		return rawFormat{SampleFormatS32, "s32le", "pcm_s32le"}
	case "dbl":
		return rawFormat{SampleFormatDouble, "f64le", "pcm_f64le"}
	default:
		return rawFormat{SampleFormatFloat, "f32le", "pcm_f32le"}
	}
}

// packet timestamps in presentation order, as ms, plus keyframe indices
// into that order
func parsePackets(data []byte) ([]float64, []int, error) {
	var out packetOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, nil, fmt.Errorf("failed to parse packet list: %w", err)
	}

	type packet struct {
		pts float64
		key bool
	}
	packets := make([]packet, 0, len(out.Packets))
	for _, p := range out.Packets {
		if p.PTSTime == "" || p.PTSTime == "N/A" {
			continue
		}
		packets = append(packets, packet{
			pts: parseSeconds(p.PTSTime) * 1000,
			key: strings.Contains(p.Flags, "K"),
		})
	}
	sort.SliceStable(packets, func(i, j int) bool {
		return packets[i].pts < packets[j].pts
	})

	timecodes := make([]float64, len(packets))
	var keyframes []int
	for i, p := range packets {
		timecodes[i] = p.pts
		if p.key {
			keyframes = append(keyframes, i)
		}
	}
	return timecodes, keyframes, nil
}
