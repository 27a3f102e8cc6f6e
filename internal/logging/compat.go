package logging

import (
	"fmt"
	"os"
)

// These exist for the command line entry points, which report startup failures
// and exit. Library code should return errors instead.

func (log *Logger) Fatal(v ...interface{}) {
	log.Log(Error, 1, "%s", fmt.Sprint(v...))
	os.Exit(1)
}

func (log *Logger) Fatalf(format string, v ...interface{}) {
	log.Log(Error, 1, format, v...)
	os.Exit(1)
}
