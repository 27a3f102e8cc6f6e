//go:build !linux

package v4l2

import "github.com/pkg/errors"

type Device struct {
	Path  string
	Major uint32
	Minor uint32
}

func Check(path string) (*Device, error) {
	return nil, errors.Errorf("virtual device %s: V4L2 is only available on Linux", path)
}

func (d *Device) IsVideo() bool { return false }

func (d *Device) Name() string { return "" }
