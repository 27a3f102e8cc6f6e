package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/zenoxygen/camd"
	"github.com/zenoxygen/camd/internal/logging"
)

// Populated via -ldflags="-X ...".
var GitRevisionId string

var log = logging.DefaultLogger.WithTag("main")

// version displays information and exits successfully (GNU convention)
func version() {
	rev := GitRevisionId
	if rev == "" {
		rev = "devel"
	}
	fmt.Println("camd", rev)
}

func main() {
	flag.Usage = help
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	cfg := camd.DefaultConfig()
	if flagConfig != "" {
		var err error
		if cfg, err = camd.LoadConfig(flagConfig); err != nil {
			log.Fatal(err)
		}
	}
	applyFlags(&cfg)

	if cfg.LogLevel != "" {
		if err := logging.Configure(cfg.LogLevel); err != nil {
			log.Fatalf("invalid log level: %v", err)
		}
	}

	relay, err := camd.New(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := relay.Run(ctx); err != nil {
		log.Error("%v", err)
		stop()
		os.Exit(1)
	}
}
