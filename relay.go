//////////////////////////////////////////////////////////////////////////////
//
// Relay wires a camera connection to an MJPEG client through a bounded queue
//
// Copyright 2026 The camd Authors. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

// Package camd relays JPEG frames pushed by a network camera to a single MJPEG
// client, and optionally feeds that stream into a V4L2 loopback device.
package camd

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/zenoxygen/camd/internal/bridge"
	"github.com/zenoxygen/camd/internal/emitter"
	"github.com/zenoxygen/camd/internal/logging"
	"github.com/zenoxygen/camd/internal/queue"
	"github.com/zenoxygen/camd/internal/reader"
	"github.com/zenoxygen/camd/internal/status"
	"github.com/zenoxygen/camd/internal/v4l2"
)

var log = logging.DefaultLogger.WithTag("camd")

type Relay struct {
	cfg Config

	queue   *queue.Queue
	reader  *reader.Reader
	emitter *emitter.Emitter
	bridge  *bridge.Bridge
	status  *status.Server

	// Virtual device checked at startup, nil without the bridge.
	device *v4l2.Device

	start   time.Time
	running atomic.Bool
}

type Option func(*relayOptions)

type relayOptions struct {
	onCameraListen func(net.Addr)
	onVideoListen  func(net.Addr)
}

// WithCameraListenHook reports each address the camera server binds.
func WithCameraListenHook(f func(net.Addr)) Option {
	return func(o *relayOptions) { o.onCameraListen = f }
}

// WithVideoListenHook reports each address the video server binds.
func WithVideoListenHook(f func(net.Addr)) Option {
	return func(o *relayOptions) { o.onVideoListen = f }
}

// New validates cfg and builds every component. Nothing is bound until Run.
func New(cfg Config, opts ...Option) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o relayOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := &Relay{
		cfg:   cfg,
		queue: queue.New(cfg.QueueCapacity),
		start: time.Now(),
	}
	log.Debug("Relay queue holds up to %d frames", r.queue.Cap())

	readerOpts := []reader.Option{reader.WithMaxFrameSize(cfg.MaxFrameSize)}
	if o.onCameraListen != nil {
		readerOpts = append(readerOpts, reader.WithListenHook(o.onCameraListen))
	}
	r.reader = reader.New(cfg.CameraAddress, r.queue, readerOpts...)

	var emitterOpts []emitter.Option
	if o.onVideoListen != nil {
		emitterOpts = append(emitterOpts, emitter.WithListenHook(o.onVideoListen))
	}
	r.emitter = emitter.New(cfg.VideoAddress, r.queue, emitterOpts...)

	if cfg.Bridge.Enabled {
		dev, err := v4l2.Check(cfg.VirtualDevice)
		if err != nil {
			return nil, err
		}
		r.device = dev
		if dev.IsVideo() {
			log.Info("Virtual device %s (%d:%d) %q", dev.Path, dev.Major, dev.Minor, dev.Name())
		} else {
			log.Warn("Virtual device %s (%d:%d) is not a video4linux device", dev.Path, dev.Major, dev.Minor)
		}

		src, err := bridge.SourceURL(cfg.VideoAddress)
		if err != nil {
			return nil, err
		}
		r.bridge = bridge.New(bridge.Config{
			Command:      cfg.Bridge.Command,
			Source:       src,
			Device:       cfg.VirtualDevice,
			RestartDelay: cfg.Bridge.RestartDelay,
		})
	}

	if cfg.StatusAddress != "" {
		r.status = status.New(cfg.StatusAddress, r)
	}

	return r, nil
}

// Snapshot returns the current counters of every component.
func (r *Relay) Snapshot() status.Snapshot {
	snap := status.Snapshot{
		Uptime:  time.Since(r.start).Truncate(time.Second).String(),
		Queue:   r.queue.Stats(),
		Reader:  r.reader.Stats(),
		Emitter: r.emitter.Stats(),
	}
	if r.device != nil {
		snap.Device = &status.Device{
			Path:  r.device.Path,
			Name:  r.device.Name(),
			Major: r.device.Major,
			Minor: r.device.Minor,
			Video: r.device.IsVideo(),
		}
	}
	return snap
}

// Run serves until ctx ends or, with FailureExit, until the camera or video
// server fails to bind or accept. That failure is returned.
//
// On the way out the camera server stops first and the queue is closed, so
// the current client receives what is left for up to DrainTimeout.
func (r *Relay) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatal := make(chan error, 2)
	report := func(name string, err error) {
		if err == nil {
			log.Debug("%s server stopped", name)
			return
		}
		if r.cfg.OnFailure == FailureExit {
			log.Error("%v", err)
			fatal <- err
			return
		}
		log.Error("%v, continuing without the %s server", err, name)
	}

	readerCtx, stopReader := context.WithCancel(ctx)
	defer stopReader()
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		report("camera", r.reader.Run(readerCtx))
	}()

	// The emitter outlives ctx so that it can drain the queue.
	emitterCtx, stopEmitter := context.WithCancel(context.WithoutCancel(ctx))
	defer stopEmitter()
	emitterDone := make(chan struct{})
	go func() {
		defer close(emitterDone)
		report("video", r.emitter.Run(emitterCtx))
	}()

	var wg sync.WaitGroup
	if r.status != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.status.Run(ctx); err != nil {
				log.Warn("%v", err)
			}
		}()
	}
	if r.bridge != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.bridge.Run(ctx)
		}()
	}

	var result error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case result = <-fatal:
	}

	stopReader()
	<-readerDone
	r.queue.Close()

	if n := r.queue.Len(); n > 0 {
		log.Info("Draining %d queued frames", n)
	}
	select {
	case <-emitterDone:
	case <-time.After(r.cfg.DrainTimeout):
		log.Debug("Drain timeout, %d frames left", r.queue.Len())
	}
	stopEmitter()
	<-emitterDone

	cancel()
	wg.Wait()

	return errors.WithMessage(result, "relay")
}
