// Package server implements the accept loop shared by the camera reader and
// the video emitter: bind, accept a single connection, serve it until it fails,
// then bind again.
package server

import (
	"context"
	"net"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zenoxygen/camd/internal/logging"
)

// A Handler serves one accepted connection. The connection is closed by the
// loop when the handler returns. Returning an error other than ErrStop only
// ends the current connection.
type Handler func(ctx context.Context, conn net.Conn, id string) error

type Loop struct {
	// Short name used in logs and errors, e.g. "camera".
	Name string

	// TCP address to bind, e.g. "0.0.0.0:4321".
	Addr string

	Handle Handler

	// Called with the bound address each time the loop starts listening.
	OnListen func(net.Addr)

	Log *logging.Logger
}

// Run serves connections one at a time until ctx ends, the handler returns
// ErrStop, or binding or accepting fails. Only the latter is reported as an
// error, as a *BindError or *AcceptError. There is no delay between cycles.
func (l *Loop) Run(ctx context.Context) error {
	log := l.Log
	if log == nil {
		log = logging.DefaultLogger.WithTag(l.Name)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", l.Addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &BindError{l.Name, l.Addr, err}
		}
		log.Info("Listening for %s on %s", l.Name, ln.Addr())
		if l.OnListen != nil {
			l.OnListen(ln.Addr())
		}

		conn, err := accept(ctx, ln)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &AcceptError{l.Name, ln.Addr().String(), err}
		}

		id := uuid.New().String()
		log.Info("Connected %s %s [%s]", l.Name, conn.RemoteAddr(), id)

		err = serve(ctx, conn, id, l.Handle)
		switch {
		case errors.Is(err, ErrStop):
			log.Info("Disconnected %s [%s], stopping", l.Name, id)
			return nil
		case ctx.Err() != nil:
			log.Info("Disconnected %s [%s] on shutdown", l.Name, id)
			return nil
		case err != nil:
			log.Info("Disconnected %s [%s]: %v", l.Name, id, err)
		default:
			log.Info("Disconnected %s [%s]", l.Name, id)
		}
	}
}

// Accept exactly one connection, then stop listening so that further peers
// are refused while this one is served.
func accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	defer ln.Close()

	accepted := make(chan struct{})
	defer close(accepted)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-accepted:
		}
	}()

	return ln.Accept()
}

// Serve conn with h. The connection is closed when ctx ends, which unblocks any
// pending read or write in the handler.
func serve(ctx context.Context, conn net.Conn, id string, h Handler) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	return h(ctx, conn, id)
}
