package render

import (
	"context"
	"fmt"
	"image"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	ffmpeggo "github.com/u2takey/ffmpeg-go"

	"github.com/mgpai22/subsync/internal/ffmpeg"
	"github.com/mgpai22/subsync/internal/logging"
	"github.com/mgpai22/subsync/internal/mediaerr"
	"github.com/mgpai22/subsync/internal/subtitle"
)

// FFmpegRenderer draws subtitles with ffmpeg's libass based subtitles
// filter over a fully transparent canvas.
type FFmpegRenderer struct {
	runner  *ffmpeg.Runner
	workDir string
	log     *logging.Logger
}

// NewFFmpegRenderer writes temporary scripts under workDir, or the system
// temp dir when empty.
func NewFFmpegRenderer(runner *ffmpeg.Runner, workDir string, log *logging.Logger) *FFmpegRenderer {
	return &FFmpegRenderer{
		runner:  runner,
		workDir: workDir,
		log:     logging.OrNop(log).Named("render"),
	}
}

func (r *FFmpegRenderer) Render(ctx context.Context, doc *subtitle.Document, width, height int, pts int64, aspect *big.Rat) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, mediaerr.Newf(mediaerr.CodeInvalidDimensions, "render subtitles", "%dx%d", width, height)
	}

	script, err := os.CreateTemp(r.workDir, "subsync-*.ass")
	if err != nil {
		return nil, fmt.Errorf("failed to create subtitle script: %w", err)
	}
	defer func() {
		_ = os.Remove(script.Name())
	}()
	if err := subtitle.WriteASS(script, doc); err != nil {
		_ = script.Close()
		return nil, fmt.Errorf("failed to write subtitle script: %w", err)
	}
	if err := script.Close(); err != nil {
		return nil, fmt.Errorf("failed to write subtitle script: %w", err)
	}

	canvas := fmt.Sprintf("color=c=black@0.0:s=%dx%d:r=25:d=1", width, height)
	stream := ffmpeggo.Input(canvas, ffmpeggo.KwArgs{"f": "lavfi"}).
		Output("pipe:", ffmpeggo.KwArgs{
			"vf":       overlayFilter(script.Name(), width, height, pts, aspect),
			"frames:v": 1,
			"pix_fmt":  "rgba",
			"f":        "rawvideo",
		})

	r.log.Debugw("rendering subtitles", "pts", pts, "width", width, "height", height, "events", len(doc.Events))
	out, err := r.runner.Output(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to render subtitles: %w", err)
	}
	want := width * height * 4
	if len(out) < want {
		return nil, fmt.Errorf("failed to render subtitles: got %d bytes, want %d", len(out), want)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, out[:want])
	return img, nil
}

// overlayFilter shifts the canvas so its first frame lands on pts, then lets
// libass draw. Anamorphic sources are rendered against the storage size so
// glyphs are stretched back by the sample aspect ratio.
func overlayFilter(script string, width, height int, pts int64, aspect *big.Rat) string {
	size := fmt.Sprintf("%dx%d", width, height)
	if aspect != nil && aspect.Sign() > 0 && aspect.Cmp(big.NewRat(1, 1)) != 0 {
		stored := new(big.Rat).Mul(big.NewRat(int64(width), 1), new(big.Rat).Inv(aspect))
		sw, _ := stored.Float64()
		size = fmt.Sprintf("%dx%d", int(sw), height)
	}
	return fmt.Sprintf("format=rgba,setpts=PTS+%.3f/TB,subtitles=filename='%s':original_size=%s",
		float64(pts)/1000, escapeFilterPath(script), size)
}

// escapes a path for use inside a quoted filtergraph option
func escapeFilterPath(p string) string {
	p = filepath.ToSlash(p)
	return strings.NewReplacer(`\`, `\\`, `'`, `'\''`, `:`, `\:`).Replace(p)
}
