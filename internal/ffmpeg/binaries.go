// Package ffmpeg locates the ffmpeg/ffprobe executables and runs them.
package ffmpeg

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	releaseVersion = "6.1"
	releaseBaseURL = "https://github.com/ffbinaries/ffbinaries-prebuilt/releases/download"

	EnvFFmpegPath  = "SUBSYNC_FFMPEG_PATH"
	EnvFFprobePath = "SUBSYNC_FFPROBE_PATH"
)

type BinaryPaths struct {
	FFmpeg  string
	FFprobe string
}

var (
	mu        sync.Mutex
	resolved  *BinaryPaths
	overrides BinaryPaths
)

// Configure sets explicit paths (from the config file or flags). They take
// precedence over the environment and PATH lookups.
func Configure(paths BinaryPaths) {
	mu.Lock()
	defer mu.Unlock()
	overrides = paths
	resolved = nil
}

// Ensure resolves both binaries once, downloading a static build into the
// user cache directory as a last resort.
func Ensure() (BinaryPaths, error) {
	mu.Lock()
	defer mu.Unlock()
	if resolved != nil {
		return *resolved, nil
	}
	paths, err := locate(overrides)
	if err != nil {
		return BinaryPaths{}, err
	}
	resolved = &paths
	return paths, nil
}

func FFmpegPath() (string, error) {
	paths, err := Ensure()
	if err != nil {
		return "", err
	}
	return paths.FFmpeg, nil
}

func FFprobePath() (string, error) {
	paths, err := Ensure()
	if err != nil {
		return "", err
	}
	return paths.FFprobe, nil
}

func locate(explicit BinaryPaths) (BinaryPaths, error) {
	paths := explicit
	if paths.FFmpeg == "" {
		paths.FFmpeg = os.Getenv(EnvFFmpegPath)
	}
	if paths.FFprobe == "" {
		paths.FFprobe = os.Getenv(EnvFFprobePath)
	}
	if paths.FFmpeg == "" {
		paths.FFmpeg, _ = exec.LookPath("ffmpeg")
	}
	if paths.FFprobe == "" {
		paths.FFprobe, _ = exec.LookPath("ffprobe")
	}
	if paths.FFmpeg != "" && paths.FFprobe != "" {
		return paths, nil
	}

	installDir := installDirectory()
	suffix := executableSuffix()
	cached := BinaryPaths{
		FFmpeg:  filepath.Join(installDir, "ffmpeg"+suffix),
		FFprobe: filepath.Join(installDir, "ffprobe"+suffix),
	}
	if !fileExists(cached.FFmpeg) || !fileExists(cached.FFprobe) {
		if err := install(installDir); err != nil {
			return BinaryPaths{}, err
		}
	}
	if paths.FFmpeg == "" {
		paths.FFmpeg = cached.FFmpeg
	}
	if paths.FFprobe == "" {
		paths.FFprobe = cached.FFprobe
	}
	return paths, nil
}

func installDirectory() string {
	cacheDir, err := os.UserCacheDir()
	if err != nil || cacheDir == "" {
		cacheDir = os.TempDir()
	}
	return filepath.Join(cacheDir, "subsync", "ffmpeg", releaseVersion,
		runtime.GOOS, runtime.GOARCH)
}

func install(installDir string) error {
	asset, err := assetForPlatform(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return fmt.Errorf("create ffmpeg cache dir: %w", err)
	}

	archivePath, err := download(asset)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(archivePath) }()

	if err := unpack(archivePath, installDir); err != nil {
		return fmt.Errorf("extract %s: %w", asset, err)
	}
	return nil
}

func assetForPlatform(goos, goarch string) (string, error) {
	var platform string
	switch goos + "/" + goarch {
	case "linux/amd64":
		platform = "linux-64"
	case "linux/arm64":
		platform = "linux-arm-64"
	case "darwin/amd64":
		platform = "macos-64"
	case "windows/amd64":
		platform = "win-64"
	default:
		return "", fmt.Errorf("ffmpeg not found and no prebuilt binaries for %s/%s", goos, goarch)
	}
	return "ffmpeg-" + releaseVersion + "-" + platform + ".zip", nil
}

// fetches asset into a temp file and returns its path
func download(asset string) (string, error) {
	url := fmt.Sprintf("%s/v%s/%s", releaseBaseURL, releaseVersion, asset)
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("download ffmpeg bundle: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download ffmpeg bundle: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp("", "subsync-ffmpeg-*.zip")
	if err != nil {
		return "", fmt.Errorf("create temp archive: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close archive: %w", err)
	}
	return tmp.Name(), nil
}

func unpack(archivePath, installDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open ffmpeg archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	found := map[string]bool{}
	for _, file := range zr.File {
		name := strings.TrimSuffix(strings.ToLower(filepath.Base(file.Name)), ".exe")
		if name != "ffmpeg" && name != "ffprobe" {
			continue
		}
		dest := filepath.Join(installDir, name+executableSuffix())
		if err := unpackFile(file, dest); err != nil {
			return err
		}
		found[name] = true
	}
	if !found["ffmpeg"] || !found["ffprobe"] {
		return errors.New("ffmpeg archive missing required binaries")
	}
	return nil
}

func unpackFile(file *zip.File, dest string) error {
	r, err := file.Open()
	if err != nil {
		return fmt.Errorf("open ffmpeg archive entry: %w", err)
	}
	defer func() { _ = r.Close() }()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dest), err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(dest), err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}

func executableSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}
