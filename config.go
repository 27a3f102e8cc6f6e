//////////////////////////////////////////////////////////////////////////////
//
// Config contains configuration data for the Relay
//
// Copyright 2026 The camd Authors. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package camd

import (
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zenoxygen/camd/internal/logging"
	"github.com/zenoxygen/camd/internal/v4l2"
)

// What to do when the camera or video server cannot bind or accept.
type FailurePolicy string

const (
	// Stop the whole relay and report the error.
	FailureExit FailurePolicy = "exit"

	// Log the error and keep the remaining components running.
	FailureContinue FailurePolicy = "continue"
)

type BridgeConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Command      string        `yaml:"command"`
	RestartDelay time.Duration `yaml:"restart_delay"`
}

type Config struct {
	// V4L2 loopback device the bridge writes into
	VirtualDevice string `yaml:"virtual_device"`

	// Listen address for the camera
	CameraAddress string `yaml:"camera_address"`

	// Listen address for the MJPEG client
	VideoAddress string `yaml:"video_address"`

	// Listen address for the status server, disabled when empty
	StatusAddress string `yaml:"status_address"`

	// Maximum number of frames waiting between camera and client
	QueueCapacity int `yaml:"queue_capacity"`

	// Larger frames are a protocol violation
	MaxFrameSize uint32 `yaml:"max_frame_size"`

	// How long the client may keep draining queued frames on shutdown
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	OnFailure FailurePolicy `yaml:"on_failure"`

	Bridge BridgeConfig `yaml:"bridge"`

	// Logging directives, same syntax as the CAMD_LOG environment variable
	LogLevel string `yaml:"log_level"`
}

const (
	DefaultQueueCapacity = 1024
	DefaultMaxFrameSize  = 16 << 20
)

func DefaultConfig() Config {
	return Config{
		VirtualDevice: "/dev/video2",
		CameraAddress: "0.0.0.0:4321",
		VideoAddress:  "0.0.0.0:1234",
		QueueCapacity: DefaultQueueCapacity,
		MaxFrameSize:  DefaultMaxFrameSize,
		DrainTimeout:  2 * time.Second,
		OnFailure:     FailureExit,
		Bridge: BridgeConfig{
			Enabled:      true,
			Command:      "ffmpeg",
			RestartDelay: time.Second,
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. Unknown keys are
// rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrap(err, "open config")
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate checks the configuration before anything is bound.
func (c *Config) Validate() error {
	addrs := []struct{ name, addr string }{
		{"camera", c.CameraAddress},
		{"video", c.VideoAddress},
	}
	if c.StatusAddress != "" {
		addrs = append(addrs, struct{ name, addr string }{"status", c.StatusAddress})
	}
	for _, a := range addrs {
		if _, _, err := net.SplitHostPort(a.addr); err != nil {
			return errors.Wrapf(err, "invalid %s address %q", a.name, a.addr)
		}
	}

	if c.QueueCapacity < 1 {
		return errors.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.MaxFrameSize < 4 {
		return errors.Errorf("max frame size too small: %d", c.MaxFrameSize)
	}
	if c.DrainTimeout < 0 {
		return errors.Errorf("negative drain timeout: %v", c.DrainTimeout)
	}

	switch c.OnFailure {
	case FailureExit, FailureContinue:
	default:
		return errors.Errorf("unknown failure policy %q (want %q or %q)",
			c.OnFailure, FailureExit, FailureContinue)
	}

	if c.LogLevel != "" {
		for _, d := range strings.Split(c.LogLevel, ",") {
			if d = strings.TrimSpace(d); d == "" {
				continue
			}
			if _, lvl, ok := strings.Cut(d, "="); ok {
				d = lvl
			}
			if _, err := logging.ParseLevel(d); err != nil {
				return errors.Wrap(err, "invalid log level")
			}
		}
	}

	if c.Bridge.Enabled {
		if c.Bridge.Command == "" {
			return errors.New("bridge enabled without a command")
		}
		if _, err := v4l2.Check(c.VirtualDevice); err != nil {
			return err
		}
	}

	return nil
}
