// Command walletsync keeps a player's multi-currency wallet in sync with the
// gaming platform, holds optimistic deductions for bets in flight and serves
// the wallet over HTTP.
//
// Usage:
//
//	walletsync --config config.yaml
//	walletsync --server https://api.example.com --user 42
//	walletsync setup
//
// The bearer token is read from WALLETSYNC_TOKEN.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/azebets/walletsync/config"
	"github.com/azebets/walletsync/internal"
	"github.com/azebets/walletsync/internal/logging"
	"github.com/azebets/walletsync/internal/setup"
)

func main() {
	var (
		conf config.Config
		err  error
	)
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		path, setupErr := setup.RunTUI()
		if setupErr != nil {
			log.Fatal(setupErr)
		}
		conf, err = config.Parse(flag.CommandLine, []string{"--config", path})
	} else {
		conf, err = config.Get()
	}
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(conf.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if conf.Token == "" {
		logger.Warn("no bearer token set, platform calls will be anonymous", zap.String("env", config.TokenEnv))
	}

	app, err := internal.NewApp(conf, logger)
	if err != nil {
		logger.Fatal("failed to build walletsync", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		logger.Error("walletsync stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("walletsync stopped")
}
