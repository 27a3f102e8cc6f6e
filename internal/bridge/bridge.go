//////////////////////////////////////////////////////////////////////////////
//
// Supervisor for the ffmpeg process that reads the relayed MJPEG stream and
// writes it into a V4L2 loopback device. The process is a plain client of the
// video endpoint; it is restarted whenever it exits, independently of the
// camera and video servers.
//
// Copyright 2026 The camd Authors. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package bridge

import (
	"bytes"
	"context"
	"net"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/zenoxygen/camd/internal/logging"
)

var log = logging.DefaultLogger.WithTag("bridge")

const defaultRestartDelay = time.Second

type Config struct {
	// Executable to run, "ffmpeg" unless overridden.
	Command string

	// URL of the MJPEG stream, e.g. "http://127.0.0.1:1234".
	Source string

	// Virtual device to write to, e.g. "/dev/video2".
	Device string

	// Pause between an exit and the next start.
	RestartDelay time.Duration
}

type Bridge struct {
	cfg    Config
	starts atomic.Uint64

	// Called after each exit, with the wait error. Used by tests.
	onExit func(error)
}

func New(cfg Config) *Bridge {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	return &Bridge{cfg: cfg}
}

// SourceURL turns the video listen address into a URL ffmpeg can connect to.
// Wildcard hosts are replaced by the loopback address.
func SourceURL(videoAddr string) (string, error) {
	host, port, err := net.SplitHostPort(videoAddr)
	if err != nil {
		return "", errors.Wrapf(err, "invalid video address %q", videoAddr)
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		if ip != nil && ip.To4() == nil {
			host = "::1"
		} else {
			host = "127.0.0.1"
		}
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

// Args returns the command line arguments passed to ffmpeg.
func (b *Bridge) Args() []string {
	return []string{
		"-i", b.cfg.Source,
		"-vf", "format=yuv420p",
		"-f", "v4l2",
		b.cfg.Device,
	}
}

// Starts returns how many times the process has been started.
func (b *Bridge) Starts() uint64 {
	return b.starts.Load()
}

// Run keeps the process running until ctx ends. The process is killed on
// cancellation. Run always returns nil; failures to start are logged and
// retried like any other exit.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		err := b.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Warn("%s exited: %v, restarting in %v", b.cfg.Command, err, b.cfg.RestartDelay)
		} else {
			log.Info("%s exited, restarting in %v", b.cfg.Command, b.cfg.RestartDelay)
		}
		if b.onExit != nil {
			b.onExit(err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.cfg.RestartDelay):
		}
	}
}

func (b *Bridge) runOnce(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, b.cfg.Command, b.Args()...)

	// ffmpeg is chatty on stderr. Only keep it around when debugging.
	if log.Enabled(logging.Debug) {
		stderr := &lineLogger{log: log, prefix: "ffmpeg: "}
		cmd.Stderr = stderr
		defer stderr.Flush()
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to spawn %s", b.cfg.Command)
	}
	b.starts.Add(1)
	log.Info("Streaming %s to virtual device %s (pid %d)", b.cfg.Source, b.cfg.Device, cmd.Process.Pid)

	return cmd.Wait()
}

// lineLogger is an io.Writer that logs each complete line at debug level.
type lineLogger struct {
	log    *logging.Logger
	prefix string
	buf    []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexAny(l.buf, "\r\n")
		if i < 0 {
			break
		}
		if line := l.buf[:i]; len(line) > 0 {
			l.log.Debug("%s%s", l.prefix, line)
		}
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing line that has no newline.
func (l *lineLogger) Flush() {
	if len(l.buf) > 0 {
		l.log.Debug("%s%s", l.prefix, l.buf)
		l.buf = nil
	}
}
