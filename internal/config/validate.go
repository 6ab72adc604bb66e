package config

import (
	"fmt"
	"strings"

	"github.com/mgpai22/subsync/internal/playback"
	"github.com/mgpai22/subsync/internal/timeline"
)

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.LogLevel != "" {
		switch strings.ToLower(c.LogLevel) {
		case "debug", "info", "warn", "error":
		default:
			errs = append(errs, fmt.Sprintf("invalid log level %q", c.LogLevel))
		}
	}

	if c.Cache.Enabled && c.Cache.Dir == "" {
		errs = append(errs, "cache dir is required when the cache is enabled")
	}

	if c.Spectrogram.ChunkSize <= 0 {
		errs = append(errs, "spectrogram chunk size must be positive")
	}
	if c.Spectrogram.MarginFactor < 1 {
		errs = append(errs, "spectrogram margin factor must be at least 1")
	}

	if c.Band.StripHeight <= 0 {
		errs = append(errs, "band strip height must be positive")
	}
	if c.Band.ChunkSize <= 0 {
		errs = append(errs, "band chunk size must be positive")
	}

	if err := validateFollow(c.Timeline.Follow); err != nil {
		errs = append(errs, fmt.Sprintf("timeline follow: %v", err))
	}

	if c.Playback.Volume < playback.MinVolume || c.Playback.Volume > playback.MaxVolume {
		errs = append(errs, fmt.Sprintf("playback volume must be between %d and %d", playback.MinVolume, playback.MaxVolume))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateFollow(f timeline.FollowConfig) error {
	var errs []string

	if _, err := timeline.ParseFollowMode(string(f.Mode)); err != nil {
		errs = append(errs, err.Error())
	}
	if f.LeadIn < 0 || f.LeadOut < 0 {
		errs = append(errs, "lead-in and lead-out cannot be negative")
	}
	if f.MinWindow < 0 || f.MaxWindow < 0 {
		errs = append(errs, "window bounds cannot be negative")
	}
	if f.MaxWindow > 0 && f.MinWindow > f.MaxWindow {
		errs = append(errs, "min window exceeds max window")
	}
	if f.Mode == timeline.FollowConstant && f.Window <= 0 {
		errs = append(errs, "constant mode needs a positive window")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, ", "))
	}
	return nil
}
