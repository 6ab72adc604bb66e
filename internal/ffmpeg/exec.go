package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"

	ffmpeggo "github.com/u2takey/ffmpeg-go"

	"github.com/mgpai22/subsync/internal/logging"
	"github.com/mgpai22/subsync/internal/mediaerr"
)

// Runner executes ffmpeg and ffprobe with stderr captured into errors.
type Runner struct {
	paths BinaryPaths
	log   *logging.Logger
}

// NewRunner resolves the binaries through Ensure.
func NewRunner(log *logging.Logger) (*Runner, error) {
	paths, err := Ensure()
	if err != nil {
		return nil, err
	}
	return &Runner{paths: paths, log: logging.OrNop(log).Named("ffmpeg")}, nil
}

// NewRunnerWithPaths skips discovery.
func NewRunnerWithPaths(paths BinaryPaths, log *logging.Logger) *Runner {
	return &Runner{paths: paths, log: logging.OrNop(log).Named("ffmpeg")}
}

func (r *Runner) Paths() BinaryPaths {
	return r.paths
}

// Run executes a command graph built with ffmpeg-go, streaming stdout to w
// when w is non-nil.
func (r *Runner) Run(ctx context.Context, stream *ffmpeggo.Stream, w io.Writer) error {
	return r.exec(ctx, r.paths.FFmpeg, stream.GetArgs(), w)
}

// Output runs a command graph and returns its stdout.
func (r *Runner) Output(ctx context.Context, stream *ffmpeggo.Stream) ([]byte, error) {
	var out bytes.Buffer
	if err := r.Run(ctx, stream, &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Probe runs ffprobe with JSON output and returns stdout.
func (r *Runner) Probe(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{"-v", "error", "-print_format", "json"}, args...)
	var out bytes.Buffer
	if err := r.exec(ctx, r.paths.FFprobe, full, &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (r *Runner) exec(ctx context.Context, bin string, args []string, w io.Writer) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stdout = w
	cmd.Stderr = &stderr

	r.log.Debugw("executing", "bin", bin, "args", args)

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &mediaerr.FFmpegError{
			Args:     args,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Cause:    err,
		}
	}
	return nil
}
