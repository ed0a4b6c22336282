package protocol

import (
	"bytes"
	"iter"
	"log/slog"
)

// RecordKind tells chat lines and control frames apart.
type RecordKind int

const (
	RecordChat RecordKind = iota
	RecordFrame
)

// String returns the string representation of RecordKind
func (k RecordKind) String() string {
	switch k {
	case RecordChat:
		return "CHAT"
	case RecordFrame:
		return "FRAME"
	default:
		return "UNKNOWN"
	}
}

// MaxRecordSize bounds the bytes buffered for a record that has not seen its
// newline yet. It comfortably fits a FILE_DATA frame at the default chunk size.
const MaxRecordSize = 1 << 20

// Record is one newline-delimited unit taken from the stream.
// Line holds the trimmed text; Frame is set only for RecordFrame.
type Record struct {
	Kind  RecordKind
	Line  string
	Frame Frame
}

// Decoder reassembles newline-delimited records from arbitrary byte chunks.
// A Decoder is not safe for concurrent use; one read loop owns it.
type Decoder struct {
	buf    []byte
	off    int
	skip   bool
	logger *slog.Logger
}

// NewDecoder creates a Decoder. A nil logger uses slog.Default().
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Feed appends p to the internal buffer and returns the complete records now
// available, in arrival order. Records are consumed as they are yielded; if the
// caller stops early the rest stay buffered and come first on the next Feed.
// A record that grows past MaxRecordSize is discarded up to its newline.
func (d *Decoder) Feed(p []byte) iter.Seq[Record] {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)

	return func(yield func(Record) bool) {
		for {
			i := bytes.IndexByte(d.buf[d.off:], '\n')
			if d.skip {
				if i < 0 {
					d.discard()
					return
				}
				d.off += i + 1
				d.skip = false
				continue
			}
			if i < 0 {
				if d.Pending() > MaxRecordSize {
					d.logger.Warn("discarding oversized record", "len", d.Pending(), "max", MaxRecordSize)
					d.discard()
					d.skip = true
				}
				return
			}
			rec := d.classify(d.buf[d.off : d.off+i])
			d.off += i + 1
			if !yield(rec) {
				return
			}
		}
	}
}

// Pending returns the number of buffered bytes not yet terminated by a newline
// or not yet yielded.
func (d *Decoder) Pending() int {
	return len(d.buf) - d.off
}

// Reset discards all buffered bytes.
func (d *Decoder) Reset() {
	d.discard()
	d.skip = false
}

func (d *Decoder) discard() {
	d.buf = d.buf[:0]
	d.off = 0
}

func (d *Decoder) classify(span []byte) Record {
	trimmed := bytes.TrimSpace(span)
	line := string(trimmed)

	if len(trimmed) >= 2 && trimmed[0] == '{' && trimmed[len(trimmed)-1] == '}' {
		frame, err := ParseFrame(trimmed)
		if err == nil {
			return Record{Kind: RecordFrame, Line: line, Frame: frame}
		}
		d.logger.Debug("failed to parse control frame, treating as chat", "err", err, "len", len(trimmed))
	}

	return Record{Kind: RecordChat, Line: line}
}
