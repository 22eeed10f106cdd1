package wire

import "fmt"

// Error is a sentinel codec error kind.
type Error string

const (
	// ErrTruncatedPacket indicates that the reader ran out of bytes before
	// a field or record could be fully decoded.
	ErrTruncatedPacket Error = "truncated packet"

	// ErrMalformedName indicates a label sequence that violates the
	// compression rules: a pointer cycle, a forward pointer past the end
	// of the packet, a label with reserved top bits, or a decoded name
	// longer than 255 bytes.
	ErrMalformedName Error = "malformed name"

	// ErrBufferFull indicates the writer's destination buffer is too small
	// to hold the remaining data.
	ErrBufferFull Error = "buffer full"

	// ErrInvalidRewind indicates a Rewind/Unrewind call that does not
	// match the writer's single outstanding rewind mark.
	ErrInvalidRewind Error = "invalid rewind"
)

func (e Error) Error() string { return string(e) }

// MalformedRecordError reports a record whose rdata could not be parsed for
// its declared type.
type MalformedRecordError struct {
	Type RRType
	Err  error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record: %s", e.Type, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }
