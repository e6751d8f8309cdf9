package codec

import "errors"

// Decoding and encoding errors. Callers distinguish these from plain I/O
// errors (which come back wrapped from the underlying reader/writer) by
// comparing against this set with errors.Is.
var (
	// ErrUnknownMessageID is returned when a message tag byte does not
	// match any entry in the message set.
	ErrUnknownMessageID = errors.New("codec: unknown message id")

	// ErrNotASCII is returned when a str field contains a byte >= 0x80.
	ErrNotASCII = errors.New("codec: string is not 7-bit ASCII")

	// ErrTooLong is returned when an encode would need a str longer than
	// 255 bytes or an array with more than 255 elements.
	ErrTooLong = errors.New("codec: length exceeds 255")
)
