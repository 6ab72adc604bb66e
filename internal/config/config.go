// Package config holds every tunable of a subsync session. Values come from
// defaults, then a YAML file, then the environment, then CLI flags.
package config

import (
	"github.com/mgpai22/subsync/internal/band"
	"github.com/mgpai22/subsync/internal/cache"
	"github.com/mgpai22/subsync/internal/playback"
	"github.com/mgpai22/subsync/internal/spectrogram"
	"github.com/mgpai22/subsync/internal/timeline"
)

type Config struct {
	LogLevel    string            `yaml:"log_level"`
	FFmpeg      FFmpegConfig      `yaml:"ffmpeg"`
	Cache       CacheConfig       `yaml:"cache"`
	Spectrogram SpectrogramConfig `yaml:"spectrogram"`
	Band        BandConfig        `yaml:"band"`
	Timeline    TimelineConfig    `yaml:"timeline"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Server      ServerConfig      `yaml:"server"`
}

// empty paths fall back to the environment, PATH, then a download
type FFmpegConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type SpectrogramConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	MarginFactor int `yaml:"margin_factor"`
	// informational, the engine is built for these
	DerivationSize     int `yaml:"derivation_size"`
	DerivationDistance int `yaml:"derivation_distance"`
}

type BandConfig struct {
	StripHeight int `yaml:"strip_height"`
	ChunkSize   int `yaml:"chunk_size"`
}

type TimelineConfig struct {
	Follow timeline.FollowConfig `yaml:"follow"`
}

type PlaybackConfig struct {
	Volume int `yaml:"volume"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Cache: CacheConfig{
			Enabled: true,
			Dir:     cache.DefaultDir(),
		},
		Spectrogram: SpectrogramConfig{
			ChunkSize:          spectrogram.ChunkSize,
			MarginFactor:       spectrogram.MarginFactor,
			DerivationSize:     spectrogram.DerivationSize,
			DerivationDistance: spectrogram.DerivationDistance,
		},
		Band: BandConfig{
			StripHeight: band.DefaultStripHeight,
			ChunkSize:   band.DefaultChunkSize,
		},
		Timeline: TimelineConfig{
			Follow: timeline.DefaultFollowConfig(),
		},
		Playback: PlaybackConfig{
			Volume: playback.DefaultVolume,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8765",
		},
	}
}
