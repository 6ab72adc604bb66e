// Package wav writes and inspects canonical uncompressed RIFF/WAVE files.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/mgpai22/subsync/internal/media"
)

const (
	FormatPCM       = 0x0001
	FormatIEEEFloat = 0x0003

	maxSize = 0xFFFFFFFF
)

var ErrTooLarge = errors.New("data exceeds wave file size limit")

// Write encodes s as a single WAV file. Integer samples are stored as PCM;
// float samples as IEEE float with a cbSize field and a fact chunk. The
// RIFF size is patched once the data has been written.
func Write(w io.WriteSeeker, rate int, s media.Samples) error {
	if s.Format == media.SampleFormatUnknown || s.Channels < 1 {
		return fmt.Errorf("unsupported sample layout: %s x%d", s.Format, s.Channels)
	}

	isFloat := s.Format.IsFloat()
	tag := uint16(FormatPCM)
	if isFloat {
		tag = FormatIEEEFloat
	}
	bytesPerSample := s.Format.BytesPerSample()
	blockAlign := s.Channels * bytesPerSample

	var fmtChunk bytes.Buffer
	le := binary.LittleEndian
	_ = binary.Write(&fmtChunk, le, struct {
		Tag        uint16
		Channels   uint16
		Rate       uint32
		ByteRate   uint32
		BlockAlign uint16
		Bits       uint16
	}{
		Tag:        tag,
		Channels:   uint16(s.Channels),
		Rate:       uint32(rate),
		ByteRate:   uint32(rate * blockAlign),
		BlockAlign: uint16(blockAlign),
		Bits:       uint16(bytesPerSample * 8),
	})
	if isFloat {
		// cbSize
		_ = binary.Write(&fmtChunk, le, uint16(0))
	}

	var header bytes.Buffer
	header.WriteString("RIFF")
	header.Write([]byte{0, 0, 0, 0})
	header.WriteString("WAVE")
	header.WriteString("fmt ")
	_ = binary.Write(&header, le, uint32(fmtChunk.Len()))
	header.Write(fmtChunk.Bytes())
	if isFloat {
		header.WriteString("fact")
		_ = binary.Write(&header, le, [2]uint32{4, uint32(s.Frames())})
	}

	if int64(header.Len()-8)+int64(8+len(s.Data)) > maxSize {
		return ErrTooLarge
	}

	header.WriteString("data")
	_ = binary.Write(&header, le, uint32(len(s.Data)))

	start, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("failed to locate wav start: %w", err)
	}
	if _, err := w.Write(header.Bytes()); err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}
	if _, err := w.Write(s.Data); err != nil {
		return fmt.Errorf("failed to write wav data: %w", err)
	}

	end, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("failed to locate wav end: %w", err)
	}
	if _, err := w.Seek(start+4, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to riff size: %w", err)
	}
	if err := binary.Write(w, le, uint32(end-start-8)); err != nil {
		return fmt.Errorf("failed to write riff size: %w", err)
	}
	if _, err := w.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("failed to restore wav position: %w", err)
	}
	return nil
}

// Header describes a parsed WAV file
type Header struct {
	RIFFSize   uint32
	Format     uint16
	Channels   int
	SampleRate int
	Bits       int
	FactFrames uint32
	HasFact    bool
	DataSize   uint32
	// offset of the first data byte
	DataOffset int64
}

// ReadHeader walks the chunk list up to the data chunk.
func ReadHeader(r io.ReadSeeker) (Header, error) {
	var h Header
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return h, fmt.Errorf("failed to read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return h, errors.New("not a RIFF/WAVE file")
	}
	h.RIFFSize = binary.LittleEndian.Uint32(riff[4:8])

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return h, fmt.Errorf("missing data chunk: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return h, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if size < 16 {
				return h, fmt.Errorf("fmt chunk too short: %d", size)
			}
			h.Format = binary.LittleEndian.Uint16(body[0:2])
			h.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			h.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			h.Bits = int(binary.LittleEndian.Uint16(body[14:16]))
		case "fact":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return h, fmt.Errorf("failed to read fact chunk: %w", err)
			}
			h.HasFact = true
			if size >= 4 {
				h.FactFrames = binary.LittleEndian.Uint32(body[0:4])
			}
		case "data":
			h.DataSize = size
			off, err := r.Seek(0, io.SeekCurrent)
			if err != nil {
				return h, err
			}
			h.DataOffset = off
			return h, nil
		default:
			if _, err := r.Seek(int64(size), io.SeekCurrent); err != nil {
				return h, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}
