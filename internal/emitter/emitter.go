// Package emitter serves the relay queue to a single HTTP client as an MJPEG
// multipart stream.
package emitter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/zenoxygen/camd/internal/frame"
	"github.com/zenoxygen/camd/internal/logging"
	"github.com/zenoxygen/camd/internal/queue"
	"github.com/zenoxygen/camd/internal/server"
)

// Boundary separating the multipart parts.
const Boundary = "frame"

// Preamble is the HTTP response header sent once per client, before any frame.
const Preamble = "HTTP/1.0 200 OK\r\n" +
	"Connection: close\r\n" +
	"Max-Age: 0\r\n" +
	"Expires: 0\r\n" +
	"Cache-Control: no-cache, private\r\n" +
	"Pragma: no-cache\r\n" +
	"Content-Type: multipart/x-mixed-replace; boundary=" + Boundary + "\r\n" +
	"\r\n"

const partSeparator = "\r\n"

// Enough for the part header and a typical JPEG frame in one syscall.
const writeBufferSize = 256 * 1024

var errHangup = errors.New("client hung up")

// WriteError reports a failed write to the client. Op names the step that
// failed.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type Emitter struct {
	addr     string
	queue    *queue.Queue
	clock    func() time.Duration
	onListen func(net.Addr)
	log      *logging.Logger

	clients       atomic.Uint64
	sent          atomic.Uint64
	bytes         atomic.Uint64
	dropped       atomic.Uint64
	writeFailures atomic.Uint64
}

type Stats struct {
	Clients       uint64 `json:"clients"`
	Sent          uint64 `json:"framesSent"`
	Bytes         uint64 `json:"bytesSent"`
	Dropped       uint64 `json:"framesDropped"`
	WriteFailures uint64 `json:"writeFailures"`
}

type Option func(*Emitter)

// WithClock replaces the source of the X-Timestamp values. The default is the
// monotonic time elapsed since New.
func WithClock(clock func() time.Duration) Option {
	return func(e *Emitter) { e.clock = clock }
}

func WithListenHook(f func(net.Addr)) Option {
	return func(e *Emitter) { e.onListen = f }
}

func WithLogger(l *logging.Logger) Option {
	return func(e *Emitter) { e.log = l }
}

// New creates an emitter serving frames from q on addr.
func New(addr string, q *queue.Queue, opts ...Option) *Emitter {
	start := time.Now()
	e := &Emitter{
		addr:  addr,
		queue: q,
		clock: func() time.Duration { return time.Since(start) },
		log:   logging.DefaultLogger.WithTag("emitter"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run serves video clients one at a time. It returns nil when ctx ends or the
// queue is closed and drained, and a *server.BindError or *server.AcceptError
// if the listener cannot be set up. Client failures only end that client.
func (e *Emitter) Run(ctx context.Context) error {
	loop := &server.Loop{
		Name:     "video",
		Addr:     e.addr,
		Handle:   e.handle,
		OnListen: e.onListen,
		Log:      e.log,
	}
	return loop.Run(ctx)
}

func (e *Emitter) handle(ctx context.Context, conn net.Conn, id string) error {
	e.clients.Add(1)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchHangup(conn, cancel)

	w := bufio.NewWriterSize(conn, writeBufferSize)
	if err := writePreamble(w); err != nil {
		e.writeFailures.Add(1)
		return err
	}

	for {
		f, err := e.queue.Dequeue(ctx)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrClosed):
			return errors.Wrap(server.ErrStop, "relay queue closed")
		case ctx.Err() != nil:
			return errHangup
		default:
			return err
		}

		if err := e.writePart(w, f); err != nil {
			// The frame is gone: a later client starts with newer frames.
			e.dropped.Add(1)
			e.writeFailures.Add(1)
			e.log.Warn("Dropped %d-byte frame for client [%s]: %v", len(f), id, err)
			return err
		}
		e.sent.Add(1)
		e.bytes.Add(uint64(len(f)))
		e.log.Trace(5, "Sent %d-byte frame to client [%s]", len(f), id)
	}
}

// Clients send a request and then only read. End of input may just be a
// half-close, so the client is kept until a write fails. A reset connection
// is gone for sure and is released at once, without waiting for a frame.
func watchHangup(conn net.Conn, hangup func()) {
	if _, err := io.Copy(io.Discard, conn); err != nil {
		hangup()
	}
}

func writePreamble(w *bufio.Writer) error {
	if _, err := w.WriteString(Preamble); err != nil {
		return &WriteError{"preamble", err}
	}
	if err := w.Flush(); err != nil {
		return &WriteError{"preamble", err}
	}
	return nil
}

// Write f as one multipart part: header, JPEG bytes, separator, then flush.
func (e *Emitter) writePart(w *bufio.Writer, f frame.Frame) error {
	if _, err := w.WriteString(partHeader(len(f), e.clock())); err != nil {
		return &WriteError{"part header", err}
	}
	if _, err := w.Write(f); err != nil {
		return &WriteError{"frame", err}
	}
	if _, err := w.WriteString(partSeparator); err != nil {
		return &WriteError{"part separator", err}
	}
	if err := w.Flush(); err != nil {
		return &WriteError{"flush", err}
	}
	return nil
}

func partHeader(length int, elapsed time.Duration) string {
	return "--" + Boundary + "\r\n" +
		"Content-Type: image/jpeg\r\n" +
		"Content-Length: " + strconv.Itoa(length) + "\r\n" +
		"X-Timestamp: " + strconv.FormatFloat(elapsed.Seconds(), 'f', 6, 64) + "\r\n" +
		"\r\n"
}

func (e *Emitter) Stats() Stats {
	return Stats{
		Clients:       e.clients.Load(),
		Sent:          e.sent.Load(),
		Bytes:         e.bytes.Load(),
		Dropped:       e.dropped.Load(),
		WriteFailures: e.writeFailures.Load(),
	}
}
