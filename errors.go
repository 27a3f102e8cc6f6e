package camd

import "github.com/pkg/errors"

var errAlreadyRunning = errors.New("relay already running")
