package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Environment variable holding comma-separated "tag=level" directives. A
// directive without "tag=" sets the default level, e.g.
//
//	CAMD_LOG=debug,queue=warn
const envVar = "CAMD_LOG"

type tagLevel struct {
	tag   string
	level Level
}

var (
	configMu     sync.Mutex
	defaultLevel = Info
	tagLevels    []tagLevel

	// Every logger derived with WithTag, so that Configure can update them.
	derived []*Logger
)

func init() {
	if err := Configure(os.Getenv(envVar)); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid %s: %v\n", envVar, err)
	}
}

// Configure applies logging directives in the CAMD_LOG format to the default
// logger and to every tagged logger. Levels are updated without
// synchronization against readers, so Configure must be called during
// startup, before any goroutine that logs is started. cmd/camd calls it
// before Relay.Run.
func Configure(directives string) error {
	configMu.Lock()
	defer configMu.Unlock()

	for _, d := range strings.Split(directives, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := ParseLevel(v[len(v)-1])
		if err != nil {
			return err
		}
		if len(v) == 1 {
			defaultLevel = level
		} else {
			tagLevels = append(tagLevels, tagLevel{v[0], level})
		}
	}

	DefaultLogger.Level = defaultLevel
	for _, l := range derived {
		l.Level = determineLevel(l.Tag, defaultLevel)
	}
	return nil
}

// Later directives win over earlier ones.
func determineLevel(tag string, fallback Level) Level {
	for i := len(tagLevels) - 1; i >= 0; i-- {
		if tagLevels[i].tag == tag {
			return tagLevels[i].level
		}
	}
	return fallback
}
