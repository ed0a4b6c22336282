package transfer

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/omochice/touchfish-chat/pkg/protocol"
)

// ReceiverState is the state of the inbound transfer.
type ReceiverState int

const (
	ReceiverIdle ReceiverState = iota
	ReceiverOffered
	ReceiverReceiving
	ReceiverCompleted
	ReceiverRejected
)

// String returns the string representation of ReceiverState
func (s ReceiverState) String() string {
	switch s {
	case ReceiverIdle:
		return "idle"
	case ReceiverOffered:
		return "offered"
	case ReceiverReceiving:
		return "receiving"
	case ReceiverCompleted:
		return "completed"
	case ReceiverRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Offer is an announced inbound file awaiting an accept/reject decision.
type Offer struct {
	ID   string
	Name string
	Size int64
}

// File is a completed inbound transfer.
// Size is the advisory size from the offer; len(Data) is what actually arrived.
type File struct {
	ID   string
	Name string
	Size int64
	Data []byte
}

// ReceiveListener is the external collaborator notified of inbound transfer
// events. Callbacks run on the goroutine that fed the frame or called Accept,
// after the receiver's lock is released, so they may call Accept or Reject.
type ReceiveListener interface {
	FileOffered(offer Offer)
	FileProgress(offer Offer, percent float64)
	FileReceived(file File)
}

// Receiver turns FILE_START/FILE_DATA/FILE_END frames into files.
// There is no accept or reject message on the wire: rejecting only makes
// this side discard the rest of the stream. Data arriving before the
// decision is held and kept on Accept; if the stream ends first the offer
// stays pending and Accept delivers the file at once.
type Receiver struct {
	listener ReceiveListener
	logger   *slog.Logger

	mu       sync.Mutex
	state    ReceiverState
	offer    Offer
	chunks   [][]byte
	received int64
	ended    bool
	overrun  bool
}

// NewReceiver creates a Receiver reporting to listener.
func NewReceiver(listener ReceiveListener, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{listener: listener, logger: logger}
}

// State returns the current receiver state.
func (r *Receiver) State() ReceiverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Pending returns the current offer, if any transfer is offered or receiving.
func (r *Receiver) Pending() (Offer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == ReceiverOffered || r.state == ReceiverReceiving {
		return r.offer, true
	}
	return Offer{}, false
}

// Received returns the number of bytes accumulated for the current transfer.
func (r *Receiver) Received() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received
}

// Accept takes the offered transfer, including any data already held. If
// the stream has already ended the file is delivered before Accept returns.
func (r *Receiver) Accept() error {
	r.mu.Lock()
	if r.state != ReceiverOffered {
		r.mu.Unlock()
		return ErrNoOffer
	}
	r.logger.Info("file offer accepted", "transfer", r.offer.ID, "name", r.offer.Name, "held", r.received)

	var notify func()
	switch {
	case r.ended:
		notify = r.complete()
	case r.received > 0:
		r.state = ReceiverReceiving
		offer := r.offer
		percent := Percent(r.received, r.offer.Size)
		notify = func() { r.listener.FileProgress(offer, percent) }
	default:
		r.state = ReceiverReceiving
	}
	r.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// Reject discards the offered or in-flight transfer. The sender is not told
// and keeps streaming; its frames are dropped until FILE_END.
func (r *Receiver) Reject() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ReceiverOffered && r.state != ReceiverReceiving {
		return ErrNoOffer
	}
	r.logger.Info("file offer rejected", "transfer", r.offer.ID, "name", r.offer.Name)
	ended := r.ended
	r.clear()
	r.state = ReceiverRejected
	if ended {
		r.state = ReceiverIdle
	}
	return nil
}

// Reset drops any session, e.g. when the connection closes.
func (r *Receiver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clear()
	r.state = ReceiverIdle
}

// HandleFrame applies one control frame. Frames must be fed in arrival order.
func (r *Receiver) HandleFrame(f protocol.Frame) {
	var notify func()

	r.mu.Lock()
	switch f := f.(type) {
	case protocol.FileStart:
		notify = r.handleStart(f)
	case protocol.FileData:
		notify = r.handleData(f)
	case protocol.FileEnd:
		notify = r.handleEnd()
	case protocol.UnknownFrame:
		r.logger.Debug("ignoring control frame", "type", f.Tag, "err", f.Err)
	}
	r.mu.Unlock()

	if notify != nil {
		notify()
	}
}

func (r *Receiver) handleStart(f protocol.FileStart) func() {
	if r.state == ReceiverOffered || r.state == ReceiverReceiving {
		r.logger.Info("discarding file offer, another transfer is active",
			"name", f.Name, "active", r.offer.Name)
		return nil
	}

	r.clear()
	r.offer = Offer{ID: uuid.NewString(), Name: f.Name, Size: f.Size}
	r.state = ReceiverOffered
	offer := r.offer
	return func() { r.listener.FileOffered(offer) }
}

func (r *Receiver) handleData(f protocol.FileData) func() {
	switch r.state {
	case ReceiverReceiving:
	case ReceiverOffered:
		if r.ended {
			return nil
		}
	default:
		return nil
	}

	chunk := make([]byte, len(f.Data))
	copy(chunk, f.Data)
	r.chunks = append(r.chunks, chunk)
	r.received += int64(len(chunk))

	// Size is advisory: an overrun is logged once and tolerated.
	if !r.overrun && r.received > r.offer.Size+DefaultChunkSize {
		r.overrun = true
		r.logger.Warn("file transfer exceeds announced size",
			"transfer", r.offer.ID, "size", r.offer.Size, "received", r.received)
	}

	if r.state != ReceiverReceiving {
		// Held until the offer is decided.
		return nil
	}
	offer := r.offer
	percent := Percent(r.received, r.offer.Size)
	return func() { r.listener.FileProgress(offer, percent) }
}

func (r *Receiver) handleEnd() func() {
	switch r.state {
	case ReceiverReceiving:
		return r.complete()
	case ReceiverOffered:
		if !r.ended {
			r.ended = true
			r.logger.Info("file stream ended before a decision", "transfer", r.offer.ID, "name", r.offer.Name, "held", r.received)
		}
	case ReceiverRejected:
		r.state = ReceiverIdle
	}
	return nil
}

// complete must be called with mu held.
func (r *Receiver) complete() func() {
	r.state = ReceiverCompleted
	file := File{
		ID:   r.offer.ID,
		Name: r.offer.Name,
		Size: r.offer.Size,
		Data: bytes.Join(r.chunks, nil),
	}
	r.logger.Info("file transfer received", "transfer", file.ID, "name", file.Name, "bytes", len(file.Data))
	r.clear()
	r.state = ReceiverIdle
	return func() { r.listener.FileReceived(file) }
}

func (r *Receiver) clear() {
	r.offer = Offer{}
	r.chunks = nil
	r.received = 0
	r.ended = false
	r.overrun = false
}
