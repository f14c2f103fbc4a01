package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/Vidra/internal"
	"github.com/hbomb79/Vidra/pkg/logger"
)

var log = logger.Get("Main")

// main loads the user configuration, establishes the signal-aware root
// context, and runs Vidra until it stops.
func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file (environment-only when omitted)")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	} else {
		logger.SetMinLoggingLevel(logger.INFO.Level())
	}

	config := internal.VidraConfig{}
	if *configPath != "" {
		if err := config.LoadFromFile(*configPath); err != nil {
			log.Emit(logger.FATAL, "%s\n", err.Error())
			os.Exit(1)
		}
	} else if err := config.LoadFromEnv(); err != nil {
		log.Emit(logger.FATAL, "%s\n", err.Error())
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Vidra exited with error: %s\n", err.Error())
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Vidra shut down\n")
}
