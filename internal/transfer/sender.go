// Package transfer implements chunked file transfer over the chat line
// protocol: a sender that announces, streams and finishes a file, and a
// receiver that turns incoming control frames back into a file.
package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/omochice/touchfish-chat/pkg/protocol"
)

const (
	// DefaultChunkSize is the number of file bytes carried by one FILE_DATA frame.
	DefaultChunkSize = 8192
	// DefaultPacing is the delay between FILE_DATA frames. It keeps line-based
	// receivers from being flooded and is not a flow-control mechanism.
	DefaultPacing = 10 * time.Millisecond
)

// SenderState is the state of the outbound transfer.
type SenderState int

const (
	SenderIdle SenderState = iota
	SenderAnnouncing
	SenderStreaming
	SenderCompleted
	SenderFailed
)

// String returns the string representation of SenderState
func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "idle"
	case SenderAnnouncing:
		return "announcing"
	case SenderStreaming:
		return "streaming"
	case SenderCompleted:
		return "completed"
	case SenderFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FrameWriter writes one control frame to the connection. Implementations
// must finish with the frame before returning; the sender reuses chunk buffers.
type FrameWriter interface {
	WriteFrame(ctx context.Context, f protocol.Frame) error
}

// ProgressFunc receives the transfer so far and its cumulative percentage
// after each chunk.
type ProgressFunc func(sent Sent, percent float64)

// SenderOptions tunes a Sender. Zero values select the defaults; a negative
// Pacing disables pacing.
type SenderOptions struct {
	ChunkSize int
	Pacing    time.Duration
	Logger    *slog.Logger
}

// Sent describes a completed outbound transfer.
type Sent struct {
	ID     string
	Name   string
	Size   int64
	Chunks int
}

// Sender streams one file at a time as FILE_START, FILE_DATA..., FILE_END.
type Sender struct {
	w         FrameWriter
	chunkSize int
	pacing    time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	state SenderState
}

// NewSender creates a Sender writing frames to w.
func NewSender(w FrameWriter, opts SenderOptions) *Sender {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Pacing == 0 {
		opts.Pacing = DefaultPacing
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sender{
		w:         w,
		chunkSize: opts.ChunkSize,
		pacing:    opts.Pacing,
		logger:    opts.Logger,
	}
}

// State returns the current sender state.
func (s *Sender) State() SenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether a transfer is announcing or streaming.
func (s *Sender) Active() bool {
	state := s.State()
	return state == SenderAnnouncing || state == SenderStreaming
}

// Send streams the file at path. It returns ErrSendInProgress immediately,
// before any frame is written, if another transfer is active. Any I/O failure
// moves the sender to SenderFailed and is returned as *Error.
func (s *Sender) Send(ctx context.Context, path string, progress ProgressFunc) (Sent, error) {
	s.mu.Lock()
	if s.state == SenderAnnouncing || s.state == SenderStreaming {
		s.mu.Unlock()
		return Sent{}, ErrSendInProgress
	}
	s.state = SenderAnnouncing
	s.mu.Unlock()

	name := filepath.Base(path)
	sent := Sent{ID: uuid.NewString(), Name: name}
	logger := s.logger.With("transfer", sent.ID, "name", name)

	f, err := os.Open(path)
	if err != nil {
		return sent, s.fail(logger, "open", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return sent, s.fail(logger, "open", name, err)
	}
	if !info.Mode().IsRegular() {
		return sent, s.fail(logger, "open", name, ErrNotRegularFile)
	}
	size := info.Size()

	if err := s.w.WriteFrame(ctx, protocol.FileStart{Name: name, Size: size}); err != nil {
		return sent, s.fail(logger, "announce", name, err)
	}
	logger.Info("file transfer started", "size", size)
	s.setState(SenderStreaming)

	var limiter *rate.Limiter
	if s.pacing > 0 {
		limiter = rate.NewLimiter(rate.Every(s.pacing), 1)
	}

	buf := make([]byte, s.chunkSize)
	for {
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return sent, s.fail(logger, "stream", name, err)
				}
			}
			if err := s.w.WriteFrame(ctx, protocol.FileData{Data: buf[:n]}); err != nil {
				return sent, s.fail(logger, "stream", name, err)
			}
			sent.Size += int64(n)
			sent.Chunks++
			if progress != nil {
				progress(sent, Percent(sent.Size, size))
			}
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return sent, s.fail(logger, "read", name, readErr)
		}
	}

	if err := s.w.WriteFrame(ctx, protocol.FileEnd{}); err != nil {
		return sent, s.fail(logger, "finish", name, err)
	}
	s.setState(SenderCompleted)
	logger.Info("file transfer completed", "bytes", sent.Size, "chunks", sent.Chunks)
	return sent, nil
}

func (s *Sender) setState(state SenderState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Sender) fail(logger *slog.Logger, op, name string, err error) error {
	s.setState(SenderFailed)
	logger.Warn("file transfer failed", "op", op, "err", err)
	return &Error{Op: op, Name: name, Err: err}
}

// Percent returns done/total as a percentage clamped to [0, 100].
// An empty or unknown total counts as complete.
func Percent(done, total int64) float64 {
	if total <= 0 {
		return 100
	}
	p := float64(done) / float64(total) * 100
	if p > 100 {
		return 100
	}
	return p
}
