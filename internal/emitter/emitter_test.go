package emitter

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenoxygen/camd/internal/frame"
	"github.com/zenoxygen/camd/internal/queue"
)

const expectedPreamble = "HTTP/1.0 200 OK\r\n" +
	"Connection: close\r\n" +
	"Max-Age: 0\r\n" +
	"Expires: 0\r\n" +
	"Cache-Control: no-cache, private\r\n" +
	"Pragma: no-cache\r\n" +
	"Content-Type: multipart/x-mixed-replace; boundary=frame\r\n\r\n"

type harness struct {
	t      *testing.T
	q      *queue.Queue
	e      *Emitter
	addrs  chan net.Addr
	result chan error
}

func start(t *testing.T, q *queue.Queue) *harness {
	h := &harness{
		t:      t,
		q:      q,
		addrs:  make(chan net.Addr, 16),
		result: make(chan error, 1),
	}
	h.e = New("127.0.0.1:0", q,
		WithListenHook(func(a net.Addr) { h.addrs <- a }),
		WithClock(func() time.Duration { return 1500 * time.Millisecond }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.result <- h.e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.result:
		case <-time.After(2 * time.Second):
			t.Error("emitter did not stop")
		}
	})
	return h
}

func (h *harness) dial() (net.Conn, *bufio.Reader) {
	select {
	case a := <-h.addrs:
		conn, err := net.Dial("tcp", a.String())
		require.NoError(h.t, err)
		h.t.Cleanup(func() { conn.Close() })
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		return conn, bufio.NewReader(conn)
	case <-time.After(2 * time.Second):
		h.t.Fatal("emitter is not listening")
		return nil, nil
	}
}

func (h *harness) push(f frame.Frame) {
	require.NoError(h.t, h.q.Enqueue(context.Background(), f))
}

func readN(t *testing.T, r io.Reader, n int) string {
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	return string(buf)
}

func TestPreambleLiteral(t *testing.T) {
	assert.Equal(t, expectedPreamble, Preamble)
}

func TestPreambleSameForEveryClient(t *testing.T) {
	h := start(t, queue.New(16))

	for i := 0; i < 2; i++ {
		conn, r := h.dial()
		assert.Equal(t, expectedPreamble, readN(t, r, len(expectedPreamble)))
		reset(t, conn)
	}
	assert.EqualValues(t, 2, h.e.Stats().Clients)
}

func TestSingleFramePart(t *testing.T) {
	h := start(t, queue.New(16))
	_, r := h.dial()
	readN(t, r, len(expectedPreamble))

	h.push(frame.Frame{0xFF, 0xD8, 0x00, 0x01, 0xFF, 0xD9})

	want := "--frame\r\n" +
		"Content-Type: image/jpeg\r\n" +
		"Content-Length: 6\r\n" +
		"X-Timestamp: 1.500000\r\n" +
		"\r\n" +
		"\xFF\xD8\x00\x01\xFF\xD9" +
		"\r\n"
	assert.Equal(t, want, readN(t, r, len(want)))
}

func TestBackToBackFramesAreSeparateParts(t *testing.T) {
	h := start(t, queue.New(16))
	_, r := h.dial()
	readN(t, r, len(expectedPreamble))

	first := frame.Frame{0xFF, 0xD8, 0x01, 0xFF, 0xD9}
	second := frame.Frame{0xFF, 0xD8, 0x02, 0x02, 0xFF, 0xD9}
	h.push(first)
	h.push(second)

	want := partHeader(5, 1500*time.Millisecond) + string(first) + "\r\n" +
		partHeader(6, 1500*time.Millisecond) + string(second) + "\r\n"
	assert.Equal(t, want, readN(t, r, len(want)))

	require.Eventually(t, func() bool { return h.e.Stats().Sent == 2 }, time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 11, h.e.Stats().Bytes)
}

// Close conn with an RST instead of a FIN.
func reset(t *testing.T, conn net.Conn) {
	require.NoError(t, conn.(*net.TCPConn).SetLinger(0))
	conn.Close()
}

func TestResetClientReaccepts(t *testing.T) {
	h := start(t, queue.New(16))

	conn, r := h.dial()
	readN(t, r, len(expectedPreamble))
	reset(t, conn)

	// No frame is needed to notice the reset.
	_, r = h.dial()
	readN(t, r, len(expectedPreamble))

	f := frame.Frame{0xFF, 0xD8, 0x07, 0xFF, 0xD9}
	h.push(f)
	want := partHeader(len(f), 1500*time.Millisecond) + string(f) + "\r\n"
	assert.Equal(t, want, readN(t, r, len(want)))
}

func TestHalfClosedClientStillReceivesFrames(t *testing.T) {
	h := start(t, queue.New(16))

	conn, r := h.dial()
	_, err := conn.Write([]byte("GET / HTTP/1.0\r\n\r\n"))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	assert.Equal(t, expectedPreamble, readN(t, r, len(expectedPreamble)))

	// Give the emitter time to read the end of the request.
	time.Sleep(50 * time.Millisecond)

	f := frame.Frame{0xFF, 0xD8, 0x08, 0xFF, 0xD9}
	h.push(f)
	want := partHeader(len(f), 1500*time.Millisecond) + string(f) + "\r\n"
	assert.Equal(t, want, readN(t, r, len(want)))
	assert.EqualValues(t, 1, h.e.Stats().Clients)
}

func TestClosedClientReleasedOnWriteFailure(t *testing.T) {
	h := start(t, queue.New(16))

	conn, r := h.dial()
	readN(t, r, len(expectedPreamble))
	conn.Close()

	// The first write after the FIN may still succeed; a later one fails
	// and the emitter goes back to accept.
	require.Eventually(t, func() bool {
		select {
		case a := <-h.addrs:
			h.addrs <- a
			return true
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		h.q.Enqueue(ctx, frame.Frame{0xFF, 0xD8, 0x09, 0xFF, 0xD9})
		return false
	}, 2*time.Second, 20*time.Millisecond)

	assert.True(t, h.e.Stats().WriteFailures >= 1)
	_, r = h.dial()
	assert.Equal(t, expectedPreamble, readN(t, r, len(expectedPreamble)))
}

func TestClosedQueueDrainsThenStops(t *testing.T) {
	q := queue.New(16)
	h := start(t, q)
	h.push(frame.Frame{0xFF, 0xD8, 0x01, 0xFF, 0xD9})
	h.push(frame.Frame{0xFF, 0xD8, 0x02, 0xFF, 0xD9})
	q.Close()

	_, r := h.dial()
	body, err := io.ReadAll(r)
	require.NoError(t, err)

	want := expectedPreamble +
		partHeader(5, 1500*time.Millisecond) + "\xFF\xD8\x01\xFF\xD9\r\n" +
		partHeader(5, 1500*time.Millisecond) + "\xFF\xD8\x02\xFF\xD9\r\n"
	assert.Equal(t, want, string(body))

	select {
	case err := <-h.result:
		assert.NoError(t, err)
		h.result <- err
	case <-time.After(2 * time.Second):
		t.Fatal("emitter did not stop after the queue was drained")
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestWritePartFailure(t *testing.T) {
	e := New("", queue.New(1))

	// Buffer too small for the header: the header write itself fails.
	err := e.writePart(bufio.NewWriterSize(failingWriter{}, 16), frame.Frame{0xFF, 0xD8, 0xFF, 0xD9})
	var we *WriteError
	require.True(t, errors.As(err, &we), "%v", err)
	assert.Equal(t, "part header", we.Op)

	// Everything fits the buffer: the failure surfaces on flush.
	err = e.writePart(bufio.NewWriterSize(failingWriter{}, 4096), frame.Frame{0xFF, 0xD8, 0xFF, 0xD9})
	require.True(t, errors.As(err, &we), "%v", err)
	assert.Equal(t, "flush", we.Op)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestPartHeaderTimestamp(t *testing.T) {
	assert.Equal(t,
		"--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 1234\r\nX-Timestamp: 0.000250\r\n\r\n",
		partHeader(1234, 250*time.Microsecond))
}

func TestDefaultClockIsMonotonic(t *testing.T) {
	e := New("", queue.New(1))
	a := e.clock()
	time.Sleep(5 * time.Millisecond)
	b := e.clock()
	assert.True(t, b > a)
	assert.True(t, a >= 0)
}
