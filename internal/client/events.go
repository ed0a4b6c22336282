package client

import (
	"github.com/omochice/touchfish-chat/internal/transfer"
	"github.com/omochice/touchfish-chat/pkg/protocol"
)

// Event is delivered on Client.Events. The concrete types are listed below;
// switch on them exhaustively.
type Event interface {
	isEvent()
}

// Connected is emitted once the connection is established.
type Connected struct {
	Username string
	Remote   string
}

// Disconnected is emitted when the connection ends. Err is nil for a local
// Disconnect and a *ConnectionError otherwise (io.EOF when the server hung up).
type Disconnected struct {
	Err error
}

// ChatReceived is one inbound chat line.
type ChatReceived struct {
	Kind protocol.ChatKind
	// Text is the line to display, without a system or broadcast prefix.
	Text string
	// Line is the raw trimmed line.
	Line string
}

// Direction tells inbound and outbound transfers apart.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// String returns the string representation of Direction
func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// FileOffered is emitted when a peer announces a file.
type FileOffered struct {
	Offer        transfer.Offer
	AutoAccepted bool
}

// FileProgress reports cumulative progress of a transfer in percent.
type FileProgress struct {
	Direction Direction
	ID        string
	Name      string
	Percent   float64
}

// FileReceived is emitted when an accepted inbound transfer completes.
type FileReceived struct {
	File transfer.File
}

// FileSaved is emitted when a received file has been written by the Saver.
type FileSaved struct {
	ID   string
	Name string
	Path string
}

// FileSent is emitted when an outbound transfer completes.
type FileSent struct {
	Sent transfer.Sent
}

// FileError reports a failed save of a received file.
type FileError struct {
	Err error
}

func (Connected) isEvent()    {}
func (Disconnected) isEvent() {}
func (ChatReceived) isEvent() {}
func (FileOffered) isEvent()  {}
func (FileProgress) isEvent() {}
func (FileReceived) isEvent() {}
func (FileSaved) isEvent()    {}
func (FileSent) isEvent()     {}
func (FileError) isEvent()    {}
