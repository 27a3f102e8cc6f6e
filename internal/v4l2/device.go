//go:build linux

// Package v4l2 checks the V4L2 loopback device that the ffmpeg bridge writes
// the relayed video into.
package v4l2

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Major device number of video4linux character devices.
const videoMajor = 81

// A V4L2 character device, as seen by stat(2).
type Device struct {
	// Device path, usually "/dev/video2" for a v4l2loopback device.
	Path string

	Major uint32
	Minor uint32
}

// Check that path exists, is a character device and can be opened for
// writing.
func Check(path string) (*Device, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, errors.Wrapf(err, "could not find virtual device %s", path)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return nil, errors.Errorf("virtual device %s is not a character device", path)
	}
	if err := unix.Access(path, unix.W_OK); err != nil {
		return nil, errors.Wrapf(err, "virtual device %s is not writable", path)
	}

	dev := uint64(st.Rdev)
	return &Device{
		Path:  path,
		Major: unix.Major(dev),
		Minor: unix.Minor(dev),
	}, nil
}

// IsVideo reports whether the device belongs to the video4linux subsystem.
func (d *Device) IsVideo() bool {
	return d.Major == videoMajor
}

// Name returns the driver-reported card name, e.g. "Dummy video device
// (0x0000)" for v4l2loopback, or "" if sysfs has none.
func (d *Device) Name() string {
	if !d.IsVideo() {
		return ""
	}
	b, err := os.ReadFile(filepath.Join("/sys/class/video4linux", filepath.Base(d.Path), "name"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
