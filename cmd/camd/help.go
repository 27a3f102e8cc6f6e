package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/zenoxygen/camd"
)

var (
	flagConfig        string
	flagVirtualDevice string
	flagHostCamera    string
	flagHostVideo     string
	flagStatusAddress string
	flagQueueCapacity int
	flagMaxFrameSize  uint32
	flagNoBridge      bool
	flagFFmpeg        string
	flagLogLevel      string
	flagHelp          bool
	flagVersion       bool
)

func init() {
	def := camd.DefaultConfig()

	flag.StringVarP(&flagConfig, "config", "c", "", "YAML configuration file")
	flag.StringVarP(&flagVirtualDevice, "virtual-device", "d", def.VirtualDevice, "V4L2 loopback device")
	flag.StringVar(&flagHostCamera, "host-camera", def.CameraAddress, "Camera listen address")
	flag.StringVar(&flagHostVideo, "host-video", def.VideoAddress, "MJPEG listen address")
	flag.StringVar(&flagStatusAddress, "status-address", def.StatusAddress, "Status listen address")
	flag.IntVarP(&flagQueueCapacity, "queue-capacity", "q", def.QueueCapacity, "Frames held between camera and client")
	flag.Uint32Var(&flagMaxFrameSize, "max-frame-size", def.MaxFrameSize, "Largest accepted frame, in bytes")
	flag.BoolVar(&flagNoBridge, "no-bridge", false, "Do not run ffmpeg")
	flag.StringVar(&flagFFmpeg, "ffmpeg", def.Bridge.Command, "ffmpeg executable")
	flag.StringVarP(&flagLogLevel, "log-level", "l", "", "Logging directives")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

// applyFlags overrides cfg with the flags given on the command line.
func applyFlags(cfg *camd.Config) {
	set := func(name string) bool { return flag.CommandLine.Changed(name) }

	if set("virtual-device") {
		cfg.VirtualDevice = flagVirtualDevice
	}
	if set("host-camera") {
		cfg.CameraAddress = flagHostCamera
	}
	if set("host-video") {
		cfg.VideoAddress = flagHostVideo
	}
	if set("status-address") {
		cfg.StatusAddress = flagStatusAddress
	}
	if set("queue-capacity") {
		cfg.QueueCapacity = flagQueueCapacity
	}
	if set("max-frame-size") {
		cfg.MaxFrameSize = flagMaxFrameSize
	}
	if flagNoBridge {
		cfg.Bridge.Enabled = false
	}
	if set("ffmpeg") {
		cfg.Bridge.Command = flagFFmpeg
	}
	if set("log-level") {
		cfg.LogLevel = flagLogLevel
	}
}

const helpString = `Relay a network camera to an MJPEG client and a V4L2 loopback device

Usage: camd [OPTION]...

Network:
      --host-camera=ADDR    Camera listen address (default: 0.0.0.0:4321)
      --host-video=ADDR     MJPEG listen address (default: 0.0.0.0:1234)
      --status-address=ADDR Status HTTP listen address (default: disabled)

Relay:
  -q, --queue-capacity=NUM  Frames held between camera and client (default: 1024)
      --max-frame-size=NUM  Largest accepted frame, in bytes (default: 16777216)

Virtual device:
  -d, --virtual-device=FILE V4L2 loopback device (default: /dev/video2)
      --ffmpeg=FILE         ffmpeg executable (default: ffmpeg)
      --no-bridge           Do not feed the virtual device

Miscellaneous:
  -c, --config=FILE         YAML configuration file, overridden by options
  -l, --log-level=LIST      Logging directives, e.g. info,reader=debug
                            (default: $CAMD_LOG)
  -h, --help                Prints this help message and exits
  -v, --version             Prints version information and exits`

// Help information is printed and program exits
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	//                             _
	//   ___   __ _  _ __ ___    __| |
	//  / __| / _` || '_ ` _ \  / _` |
	// | (__ | (_| || | | | | || (_| |
	//  \___| \__,_||_| |_| |_| \__,_|

	banner := [][4]string{
		{"       ", "       ", "           ", "     _ "},
		{"   ___ ", "  __ _ ", " _ __ ___  ", "  __| |"},
		{"  / __|", " / _` |", "| '_ ` _ \\ ", " / _` |"},
		{" | (__ ", "| (_| |", "| | | | | |", "| (_| |"},
		{"  \\___|", " \\__,_|", "|_| |_| |_|", " \\__,_|"},
	}
	for _, line := range banner {
		r.Print(line[0])
		y.Print(line[1])
		b.Print(line[2])
		y.Println(line[3])
	}

	fmt.Println(helpString)
}
