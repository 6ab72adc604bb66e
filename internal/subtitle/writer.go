package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultStyleFormat = "Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding"
	defaultStyleLine   = "Default,Arial,20,&H00FFFFFF,&H000000FF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,2,2,2,10,10,10,1"
	eventFormat        = "Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text"
)

// WriteASS serializes doc as an ASS script. Documents without styles get a
// single Default style so the renderer has something to draw with.
func WriteASS(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)

	meta := doc.Meta
	fmt.Fprintln(bw, "[Script Info]")
	if meta.Title != "" {
		fmt.Fprintf(bw, "Title: %s\n", meta.Title)
	}
	fmt.Fprintln(bw, "ScriptType: v4.00+")
	fmt.Fprintf(bw, "WrapStyle: %d\n", meta.WrapStyle)
	if meta.PlayResX > 0 {
		fmt.Fprintf(bw, "PlayResX: %d\n", meta.PlayResX)
	}
	if meta.PlayResY > 0 {
		fmt.Fprintf(bw, "PlayResY: %d\n", meta.PlayResY)
	}
	scaled := "no"
	if meta.ScaledBorderAndShadow {
		scaled = "yes"
	}
	fmt.Fprintf(bw, "ScaledBorderAndShadow: %s\n\n", scaled)

	styleFormat, styles := doc.StyleFormat, doc.Styles
	if styleFormat == "" || len(styles) == 0 {
		styleFormat, styles = defaultStyleFormat, []string{defaultStyleLine}
	}
	fmt.Fprintln(bw, "[V4+ Styles]")
	fmt.Fprintf(bw, "Format: %s\n", styleFormat)
	for _, s := range styles {
		fmt.Fprintf(bw, "Style: %s\n", s)
	}

	fmt.Fprintln(bw, "\n[Events]")
	fmt.Fprintf(bw, "Format: %s\n", eventFormat)
	for _, ev := range doc.Events {
		style := ev.Style
		if style == "" {
			style = DefaultStyle
		}
		fmt.Fprintf(bw, "Dialogue: 0,%s,%s,%s,%s,0,0,0,,%s\n",
			formatASSTime(ev.Start), formatASSTime(ev.End), style, ev.Actor,
			strings.ReplaceAll(ev.Text, "\n", `\N`))
	}
	return bw.Flush()
}

// WriteSRT writes events as SubRip, stripping override tags.
func WriteSRT(w io.Writer, events []Event) error {
	bw := bufio.NewWriter(w)
	for i, ev := range events {
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n", i+1,
			formatClock(ev.Start, ','), formatClock(ev.End, ','), PlainText(ev.Text))
	}
	return bw.Flush()
}

// WriteVTT writes events as WebVTT, stripping override tags.
func WriteVTT(w io.Writer, events []Event) error {
	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "WEBVTT\n\n")
	for _, ev := range events {
		fmt.Fprintf(bw, "%s --> %s\n%s\n\n",
			formatClock(ev.Start, '.'), formatClock(ev.End, '.'), PlainText(ev.Text))
	}
	return bw.Flush()
}

// WriteFile saves doc in the format implied by the extension of path.
func WriteFile(path string, doc *Document) (err error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create subtitle file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	switch format {
	case FormatASS:
		return WriteASS(f, doc)
	case FormatVTT:
		return WriteVTT(f, doc.Events)
	default:
		return WriteSRT(f, doc.Events)
	}
}

func formatClock(ms int64, sep byte) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d%c%03d",
		ms/3600000, ms/60000%60, ms/1000%60, sep, ms%1000)
}

// h:mm:ss.cc, truncated to centiseconds
func formatASSTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%d:%02d:%02d.%02d",
		ms/3600000, ms/60000%60, ms/1000%60, ms%1000/10)
}
