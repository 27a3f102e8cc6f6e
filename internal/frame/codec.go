package frame

import (
	"encoding/binary"
	"io"
	"math"

	errors "golang.org/x/xerrors"
)

var networkOrder = binary.BigEndian

// A Decoder reads length-prefixed frames from a camera connection.
type Decoder struct {
	r       io.Reader
	maxSize uint32
	header  [HeaderSize]byte

	// Set when the last Decode call failed before reading any header byte.
	atBoundary bool
}

// NewDecoder returns a Decoder reading from r. Frames announcing a length
// above maxSize are rejected as protocol violations; zero means no limit
// beyond the 32-bit length field itself.
func NewDecoder(r io.Reader, maxSize uint32) *Decoder {
	return &Decoder{r: r, maxSize: maxSize}
}

// Decode reads the next frame. Errors wrap ErrShortRead when the stream ends
// early and ErrProtocolViolation when the frame is malformed or too large; the
// offending payload is discarded in that case.
func (d *Decoder) Decode() (Frame, error) {
	n, err := io.ReadFull(d.r, d.header[:])
	d.atBoundary = n == 0
	if err != nil {
		return nil, errors.Errorf("reading frame header (%d of %d bytes): %v: %w", n, HeaderSize, err, ErrShortRead)
	}

	size := networkOrder.Uint32(d.header[:])
	if d.maxSize > 0 && size > d.maxSize {
		return nil, errors.Errorf("frame of %d bytes exceeds the %d byte limit: %w", size, d.maxSize, ErrProtocolViolation)
	}

	payload := make([]byte, size)
	if n, err := io.ReadFull(d.r, payload); err != nil {
		return nil, errors.Errorf("reading frame payload (%d of %d bytes): %v: %w", n, size, err, ErrShortRead)
	}

	if err := Validate(payload); err != nil {
		return nil, err
	}
	return Frame(payload), nil
}

// AtBoundary reports whether the last Decode failed cleanly between two
// frames, as when the camera disconnects after a complete frame.
func (d *Decoder) AtBoundary() bool {
	return d.atBoundary
}

// An Encoder writes frames in the camera wire format.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w}
}

// Encode writes the length prefix followed by the frame bytes. The frame is not
// validated, so that tests and simulators can produce malformed input.
func (e *Encoder) Encode(f Frame) error {
	if uint64(len(f)) > math.MaxUint32 {
		return errors.Errorf("frame of %d bytes does not fit the length prefix", len(f))
	}
	var header [HeaderSize]byte
	networkOrder.PutUint32(header[:], uint32(len(f)))
	if _, err := e.w.Write(header[:]); err != nil {
		return err
	}
	_, err := e.w.Write(f)
	return err
}
