package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Open reads a subtitle file, choosing the parser from its extension.
func Open(path string) (*Document, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open subtitle file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Parse(f, format)
}

func Parse(r io.Reader, format Format) (*Document, error) {
	switch format {
	case FormatSRT, FormatVTT:
		events, err := parseCues(r, format)
		if err != nil {
			return nil, err
		}
		return &Document{Format: format, Events: events}, nil
	case FormatASS:
		return parseASS(r)
	default:
		return nil, fmt.Errorf("unsupported subtitle format: %s", format)
	}
}

// hh:mm:ss,mmm (SRT), hh:mm:ss.mmm or mm:ss.mmm (VTT)
var cueTiming = regexp.MustCompile(
	`^\s*((?:\d+:)?\d{1,2}:\d{2}[.,]\d{1,3})\s*-->\s*((?:\d+:)?\d{1,2}:\d{2}[.,]\d{1,3})`,
)

// parseCues handles both SRT and WebVTT: blank-line separated blocks with an
// optional identifier, a timing line and text.
func parseCues(r io.Reader, format Format) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	var (
		events  []Event
		current *Event
		lines   []string
		skip    bool
		lineNum int
	)
	flush := func() {
		if current != nil && len(lines) > 0 {
			current.Text = strings.Join(lines, "\n")
			events = append(events, *current)
		}
		current, lines = nil, nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		lineNum++
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
			if format == FormatVTT && strings.HasPrefix(strings.TrimSpace(line), "WEBVTT") {
				continue
			}
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			skip = false
			continue
		}
		if skip {
			continue
		}
		if format == FormatVTT && current == nil &&
			(strings.HasPrefix(trimmed, "NOTE") || trimmed == "STYLE" || trimmed == "REGION") {
			skip = true
			continue
		}

		if m := cueTiming.FindStringSubmatch(line); m != nil {
			flush()
			start, err := parseClock(m[1])
			if err != nil {
				return nil, fmt.Errorf("invalid start timestamp at line %d: %w", lineNum, err)
			}
			end, err := parseClock(m[2])
			if err != nil {
				return nil, fmt.Errorf("invalid end timestamp at line %d: %w", lineNum, err)
			}
			current = &Event{Start: start, End: end, Style: DefaultStyle}
			continue
		}

		// cue identifiers come before the timing line and are dropped
		if current != nil {
			lines = append(lines, line)
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s file: %w", format, err)
	}
	return events, nil
}

// parseClock reads [h:]mm:ss.fff where the fraction has one to three
// digits (ASS uses centiseconds) and ',' may replace '.'.
func parseClock(ts string) (int64, error) {
	ts = strings.ReplaceAll(strings.TrimSpace(ts), ",", ".")
	clock, frac, _ := strings.Cut(ts, ".")

	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}
	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("malformed timestamp %q", ts)
		}
		total = total*60 + n
	}
	total *= 1000

	if frac != "" {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		n, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed timestamp %q", ts)
		}
		for i := len(frac); i < 3; i++ {
			n *= 10
		}
		total += n
	}
	return total, nil
}

func parseASS(r io.Reader) (*Document, error) {
	doc := &Document{Format: FormatASS}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		section   string
		columns   []string
		lineNum   int
		hasFormat bool
	)
	for scanner.Scan() {
		line := scanner.Text()
		lineNum++
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ";") {
			continue
		}
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			section = strings.ToLower(trimmed[1 : len(trimmed)-1])
			continue
		}

		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch section {
		case "script info":
			applyScriptInfo(&doc.Meta, key, value)
		case "v4+ styles", "v4 styles":
			switch key {
			case "Format":
				doc.StyleFormat = value
			case "Style":
				doc.Styles = append(doc.Styles, value)
			}
		case "events":
			switch key {
			case "Format":
				columns = splitColumns(value)
				hasFormat = true
			case "Dialogue":
				if !hasFormat {
					return nil, fmt.Errorf("ASS file missing Format line in [Events] section")
				}
				ev, err := parseDialogue(columns, value)
				if err != nil {
					return nil, fmt.Errorf("failed to parse Dialogue at line %d: %w", lineNum, err)
				}
				doc.Events = append(doc.Events, ev)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading ASS file: %w", err)
	}
	if !hasFormat {
		return nil, fmt.Errorf("ASS file missing Format line in [Events] section")
	}
	return doc, nil
}

func applyScriptInfo(meta *Meta, key, value string) {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	switch key {
	case "Title":
		meta.Title = value
	case "PlayResX":
		meta.PlayResX = atoi(value)
	case "PlayResY":
		meta.PlayResY = atoi(value)
	case "WrapStyle":
		meta.WrapStyle = atoi(value)
	case "ScaledBorderAndShadow":
		meta.ScaledBorderAndShadow = strings.EqualFold(value, "yes")
	}
}

func splitColumns(s string) []string {
	cols := strings.Split(s, ",")
	for i := range cols {
		cols[i] = strings.ToLower(strings.TrimSpace(cols[i]))
	}
	return cols
}

// parseDialogue splits on the first len(columns)-1 commas; the text column
// is last and may contain commas itself.
func parseDialogue(columns []string, value string) (Event, error) {
	fields := strings.SplitN(value, ",", len(columns))
	if len(fields) < len(columns) {
		return Event{}, fmt.Errorf("expected %d fields, got %d", len(columns), len(fields))
	}

	var ev Event
	for i, col := range columns {
		field := fields[i]
		var err error
		switch col {
		case "start":
			ev.Start, err = parseClock(field)
		case "end":
			ev.End, err = parseClock(field)
		case "style":
			ev.Style = strings.TrimSpace(field)
		case "name", "actor":
			ev.Actor = strings.TrimSpace(field)
		case "text":
			ev.Text = strings.NewReplacer(`\N`, "\n", `\n`, "\n").Replace(field)
		}
		if err != nil {
			return Event{}, err
		}
	}
	return ev, nil
}
