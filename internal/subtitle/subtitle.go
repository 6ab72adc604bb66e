// Package subtitle holds the subtitle event list shared by the timeline and
// the renderer, plus readers and writers for SRT, WebVTT and ASS.
package subtitle

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mgpai22/subsync/internal/event"
)

type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
	FormatASS Format = "ass"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".srt":
		return FormatSRT, nil
	case ".vtt":
		return FormatVTT, nil
	case ".ass", ".ssa":
		return FormatASS, nil
	default:
		return "", fmt.Errorf("unsupported subtitle format: %s", ext)
	}
}

// Event is one subtitle line. Times are pts in ms; Text uses "\n" for line
// breaks and keeps any override tags verbatim.
type Event struct {
	Start int64
	End   int64
	Style string
	Actor string
	Text  string
}

// Meta is the script info the renderer needs.
type Meta struct {
	Title                 string
	PlayResX              int
	PlayResY              int
	WrapStyle             int
	ScaledBorderAndShadow bool
}

const DefaultStyle = "Default"

// Document is a parsed subtitle file. Styles holds raw "Style:" lines in
// the column order given by StyleFormat; both are empty for SRT and VTT.
type Document struct {
	Format      Format
	Meta        Meta
	StyleFormat string
	Styles      []string
	Events      []Event
}

// EventList is the live, shared event list. Every mutation emits Changed.
type EventList struct {
	mu     sync.RWMutex
	events []Event

	Changed event.Signal[struct{}]
}

func NewEventList(events ...Event) *EventList {
	return &EventList{events: append([]Event(nil), events...)}
}

// Events returns a copy.
func (l *EventList) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Event(nil), l.events...)
}

func (l *EventList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *EventList) Get(i int) (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.events) {
		return Event{}, false
	}
	return l.events[i], true
}

func (l *EventList) Replace(events []Event) {
	l.mu.Lock()
	l.events = append([]Event(nil), events...)
	l.mu.Unlock()
	l.Changed.Emit(struct{}{})
}

func (l *EventList) Append(events ...Event) {
	if len(events) == 0 {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, events...)
	l.mu.Unlock()
	l.Changed.Emit(struct{}{})
}

func (l *EventList) Set(i int, ev Event) error {
	l.mu.Lock()
	if i < 0 || i >= len(l.events) {
		n := len(l.events)
		l.mu.Unlock()
		return fmt.Errorf("index %d out of range (0-%d)", i, n-1)
	}
	l.events[i] = ev
	l.mu.Unlock()
	l.Changed.Emit(struct{}{})
	return nil
}

// Bounds is the smallest start and largest end over all events.
func (l *EventList) Bounds() (minPTS, maxPTS int64, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, ev := range l.events {
		lo, hi := min(ev.Start, ev.End), max(ev.Start, ev.End)
		if i == 0 || lo < minPTS {
			minPTS = lo
		}
		if i == 0 || hi > maxPTS {
			maxPTS = hi
		}
	}
	return minPTS, maxPTS, len(l.events) > 0
}

// Document snapshots the list into a document carrying meta and styles.
func (l *EventList) Document(meta Meta, styleFormat string, styles []string) *Document {
	return &Document{
		Format:      FormatASS,
		Meta:        meta,
		StyleFormat: styleFormat,
		Styles:      append([]string(nil), styles...),
		Events:      l.Events(),
	}
}

// PlainText drops override blocks such as {\pos(1,2)}.
func PlainText(text string) string {
	var sb strings.Builder
	depth := 0
	for _, r := range text {
		switch {
		case r == '{':
			depth++
		case r == '}' && depth > 0:
			depth--
		case depth == 0:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
