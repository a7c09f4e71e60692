package main

import (
	"flag"
	"os"

	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

func main() {
	steps := flag.Int("steps", 0, "apply n migrations; negative rolls back, zero applies all pending")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "migrate").Logger()

	if *steps != 0 {
		err = db.Steps(cfg.DatabaseURL, *steps, &logger)
	} else {
		err = db.Up(cfg.DatabaseURL, &logger)
	}
	if err != nil {
		logger.Error().Err(err).Msg("migration failed")
		os.Exit(1)
	}
}
