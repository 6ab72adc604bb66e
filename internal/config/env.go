package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	EnvFFmpegPath   = "SUBSYNC_FFMPEG_PATH"
	EnvFFprobePath  = "SUBSYNC_FFPROBE_PATH"
	EnvCacheDir     = "SUBSYNC_CACHE_DIR"
	EnvCacheEnabled = "SUBSYNC_CACHE_ENABLED"
	EnvLogLevel     = "SUBSYNC_LOG_LEVEL"
	EnvServerAddr   = "SUBSYNC_ADDR"
)

// LoadEnv reads .env files into the process environment without overriding
// variables that are already set. With no paths ".env" is used, and a
// missing file is not an error.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overrides fields whose environment variable is set.
func (c *Config) ApplyEnv() {
	c.FFmpeg.FFmpegPath = getEnv(EnvFFmpegPath, c.FFmpeg.FFmpegPath)
	c.FFmpeg.FFprobePath = getEnv(EnvFFprobePath, c.FFmpeg.FFprobePath)
	c.Cache.Dir = getEnv(EnvCacheDir, c.Cache.Dir)
	c.Cache.Enabled = getEnvBool(EnvCacheEnabled, c.Cache.Enabled)
	c.LogLevel = getEnv(EnvLogLevel, c.LogLevel)
	c.Server.Addr = getEnv(EnvServerAddr, c.Server.Addr)
}

func getEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}
