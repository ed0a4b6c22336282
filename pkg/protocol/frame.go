// Package protocol implements the TouchFish line protocol: newline-terminated
// chat lines interleaved with JSON control frames used for file transfer.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType is the "type" tag of a control frame.
// The bracketed literals must match the server byte for byte.
type FrameType string

const (
	FrameFileStart FrameType = "[FILE_START]"
	FrameFileData  FrameType = "[FILE_DATA]"
	FrameFileEnd   FrameType = "[FILE_END]"
)

// String returns the wire tag.
func (t FrameType) String() string {
	return string(t)
}

// ErrNotObject is returned by ParseFrame when the input is not a JSON object.
var ErrNotObject = errors.New("control frame is not a JSON object")

// Frame is a decoded control frame. The concrete type is one of FileStart,
// FileData, FileEnd or UnknownFrame.
type Frame interface {
	Type() FrameType
	isFrame()
}

// FileStart announces a file transfer. Size is advisory.
type FileStart struct {
	Name string
	Size int64
}

// FileData carries one chunk of file bytes. On the wire the bytes are base64.
type FileData struct {
	Data []byte
}

// FileEnd terminates a file transfer.
type FileEnd struct{}

// UnknownFrame is a well-formed JSON object whose tag is not recognized or whose
// fields do not decode. It is still a control frame and never a chat line.
type UnknownFrame struct {
	Tag string
	Err error
}

func (FileStart) Type() FrameType      { return FrameFileStart }
func (FileData) Type() FrameType       { return FrameFileData }
func (FileEnd) Type() FrameType        { return FrameFileEnd }
func (f UnknownFrame) Type() FrameType { return FrameType(f.Tag) }

func (FileStart) isFrame()    {}
func (FileData) isFrame()     {}
func (FileEnd) isFrame()      {}
func (UnknownFrame) isFrame() {}

// wireFrame is the JSON shape shared by all control frames.
type wireFrame struct {
	Type FrameType `json:"type"`
	Name *string   `json:"name,omitempty"`
	Size *int64    `json:"size,omitempty"`
	Data *string   `json:"data,omitempty"`
}

// EncodeFrame encodes a frame as a single newline-terminated JSON line.
func EncodeFrame(f Frame) ([]byte, error) {
	var w wireFrame
	switch f := f.(type) {
	case FileStart:
		w = wireFrame{Type: FrameFileStart, Name: &f.Name, Size: &f.Size}
	case FileData:
		data := base64.StdEncoding.EncodeToString(f.Data)
		w = wireFrame{Type: FrameFileData, Data: &data}
	case FileEnd:
		w = wireFrame{Type: FrameFileEnd}
	case UnknownFrame:
		return nil, fmt.Errorf("failed to encode frame: unknown frame type %q", f.Tag)
	default:
		return nil, fmt.Errorf("failed to encode frame: unsupported frame %T", f)
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return append(data, '\n'), nil
}

// ParseFrame decodes one control-frame line (without the terminator).
// It fails only when the line is not a JSON object; field-level problems
// produce an UnknownFrame carrying the error.
func ParseFrame(line []byte) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotObject, err)
	}
	if fields == nil {
		// "null" unmarshals into a nil map without error.
		return nil, ErrNotObject
	}

	var tag string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &tag); err != nil {
			return UnknownFrame{Err: fmt.Errorf("invalid type field: %w", err)}, nil
		}
	}

	switch FrameType(tag) {
	case FrameFileStart:
		var f FileStart
		if err := decodeField(fields, "name", &f.Name); err != nil {
			return UnknownFrame{Tag: tag, Err: err}, nil
		}
		if err := decodeField(fields, "size", &f.Size); err != nil {
			return UnknownFrame{Tag: tag, Err: err}, nil
		}
		return f, nil
	case FrameFileData:
		var encoded string
		if err := decodeField(fields, "data", &encoded); err != nil {
			return UnknownFrame{Tag: tag, Err: err}, nil
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return UnknownFrame{Tag: tag, Err: fmt.Errorf("invalid data field: %w", err)}, nil
		}
		return FileData{Data: data}, nil
	case FrameFileEnd:
		return FileEnd{}, nil
	default:
		return UnknownFrame{Tag: tag}, nil
	}
}

func decodeField(fields map[string]json.RawMessage, key string, dst any) error {
	raw, ok := fields[key]
	if !ok {
		return fmt.Errorf("missing %s field", key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid %s field: %w", key, err)
	}
	return nil
}
