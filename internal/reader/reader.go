// Package reader accepts a camera connection, decodes its length-prefixed JPEG
// frames and pushes the valid ones into the relay queue.
package reader

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/zenoxygen/camd/internal/frame"
	"github.com/zenoxygen/camd/internal/logging"
	"github.com/zenoxygen/camd/internal/queue"
	"github.com/zenoxygen/camd/internal/server"
)

// Size of the read buffer on the camera connection.
const readBufferSize = 64 * 1024

type Reader struct {
	addr         string
	queue        *queue.Queue
	maxFrameSize uint32
	onListen     func(net.Addr)
	log          *logging.Logger

	connections atomic.Uint64
	accepted    atomic.Uint64
	discarded   atomic.Uint64
	shortReads  atomic.Uint64
	bytes       atomic.Uint64
}

// Stats counts what the reader has seen since it was created. Discarded
// frames failed validation and never reached the queue.
type Stats struct {
	Connections uint64 `json:"connections"`
	Accepted    uint64 `json:"framesAccepted"`
	Discarded   uint64 `json:"framesDiscarded"`
	ShortReads  uint64 `json:"shortReads"`
	Bytes       uint64 `json:"bytesReceived"`
}

type Option func(*Reader)

// WithMaxFrameSize rejects frames announcing more than n bytes. Zero disables
// the check.
func WithMaxFrameSize(n uint32) Option {
	return func(r *Reader) { r.maxFrameSize = n }
}

// WithListenHook registers a function called with the bound address every time
// the reader starts listening.
func WithListenHook(f func(net.Addr)) Option {
	return func(r *Reader) { r.onListen = f }
}

func WithLogger(l *logging.Logger) Option {
	return func(r *Reader) { r.log = l }
}

// New creates a reader listening on addr and feeding q.
func New(addr string, q *queue.Queue, opts ...Option) *Reader {
	r := &Reader{
		addr:  addr,
		queue: q,
		log:   logging.DefaultLogger.WithTag("reader"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run accepts camera connections one at a time until ctx ends. It returns a
// *server.BindError or *server.AcceptError if the listener cannot be set up;
// any failure on a connection only closes that connection.
func (r *Reader) Run(ctx context.Context) error {
	loop := &server.Loop{
		Name:     "camera",
		Addr:     r.addr,
		Handle:   r.handle,
		OnListen: r.onListen,
		Log:      r.log,
	}
	return loop.Run(ctx)
}

func (r *Reader) handle(ctx context.Context, conn net.Conn, id string) error {
	r.connections.Add(1)
	dec := frame.NewDecoder(bufio.NewReaderSize(conn, readBufferSize), r.maxFrameSize)

	for {
		f, err := dec.Decode()
		switch {
		case err == nil:
		case errors.Is(err, frame.ErrProtocolViolation):
			r.discarded.Add(1)
			r.log.Warn("Discarding invalid frame from camera [%s]: %v", id, err)
			return err
		case dec.AtBoundary():
			// Camera went away between frames.
			r.shortReads.Add(1)
			return errors.Wrap(err, "camera disconnected")
		default:
			r.shortReads.Add(1)
			r.log.Error("Incomplete frame from camera [%s]: %v", id, err)
			return err
		}

		r.bytes.Add(uint64(frame.HeaderSize + len(f)))
		r.log.Trace(5, "Read %d-byte frame from camera [%s]", len(f), id)

		// Blocks while the queue is full, which stops us reading from the
		// socket and eventually stalls the camera.
		if err := r.queue.Enqueue(ctx, f); err != nil {
			return errors.Wrap(err, "enqueue frame")
		}
		r.accepted.Add(1)
	}
}

func (r *Reader) Stats() Stats {
	return Stats{
		Connections: r.connections.Load(),
		Accepted:    r.accepted.Load(),
		Discarded:   r.discarded.Load(),
		ShortReads:  r.shortReads.Load(),
		Bytes:       r.bytes.Load(),
	}
}
