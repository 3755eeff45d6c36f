package phpserial

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode is wrapped by every *DecodeError.
	ErrDecode = errors.New("phpserial: decode failed")

	// ErrEncodeInconsistency reports a tree the decoder could never have
	// produced, or an encoding that does not reproduce its source.
	ErrEncodeInconsistency = errors.New("phpserial: encode inconsistency")
)

// DecodeError describes why and where decoding stopped.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("phpserial: decode failed at offset %d: %s", e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrDecode
}
