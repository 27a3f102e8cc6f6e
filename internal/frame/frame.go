// Package frame implements the camera wire protocol: a stream of JPEG images,
// each preceded by its length as a 4-byte big-endian unsigned integer.
package frame

import (
	"bytes"

	errors "golang.org/x/xerrors"
)

// HeaderSize is the size of the length prefix preceding each frame.
const HeaderSize = 4

// A Frame holds one complete JPEG image. Frames are passed by ownership and are
// never modified after being decoded.
type Frame []byte

var (
	startOfImage = []byte{0xFF, 0xD8}
	endOfImage   = []byte{0xFF, 0xD9}
)

var (
	// The connection ended before a complete header or payload was read.
	ErrShortRead = errors.New("short read")

	// The peer sent something that is not a valid frame.
	ErrProtocolViolation = errors.New("protocol violation")
)

// Validate checks that b looks like a complete JPEG image, i.e. that it starts
// with the SOI marker and ends with the EOI marker.
func Validate(b []byte) error {
	if len(b) < len(startOfImage)+len(endOfImage) {
		return errors.Errorf("%d-byte frame is too short to be a JPEG image: %w", len(b), ErrProtocolViolation)
	}
	if !bytes.HasPrefix(b, startOfImage) {
		return errors.Errorf("frame starts with % X, not JPEG SOI: %w", b[:2], ErrProtocolViolation)
	}
	if !bytes.HasSuffix(b, endOfImage) {
		return errors.Errorf("frame ends with % X, not JPEG EOI: %w", b[len(b)-2:], ErrProtocolViolation)
	}
	return nil
}
