package seedcatalog

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/mireles/canonry/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string) error {
	// Initialize the logger first
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "seed_log_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	multiWriter := io.MultiWriter(os.Stdout, file)
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the catalog seeding tool.
func ShowHelp() {
	os.Stdout.WriteString(`Canonry Catalog Seeding Tool
============================

Generates a plausible work catalog and seeds it into the SQLite database
the scoring service reads from. With -verify it also drives a full refresh
sweep through a running service and checks the cached rankings.

Usage:
  go run cmd/seed-catalog/main.go [options]

Options:
  -catalog string
        Path of the catalog database to seed (default "catalog.db")
  -works int
        Number of works to generate (default 2500)
  -family string
        Computation family driven during verification (default "decade")
  -verify
        Drive a refresh sweep through the service API after seeding
  -url string
        Base URL of the service (default "http://localhost:9080")
  -workers int
        Number of concurrent fetch workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -output string
        Output file for generated works (default: generated_works_TIMESTAMP.json)
  -log string
        Log file for run output (default: seed_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Seed the default catalog
  go run cmd/seed-catalog/main.go

  # Seed a large catalog at a custom path
  go run cmd/seed-catalog/main.go -works 50000 -catalog /var/lib/canonry/catalog.db

  # Seed and verify end-to-end against a locally running service.
  # Verification waits for a full sweep, so run the service with short
  # scheduling windows first:
  #   CANONRY_UNIT_SPACING=1s CANONRY_AGGREGATION_DELAY=2s ./canonry
  go run cmd/seed-catalog/main.go -works 5000 -verify

  # Verify the studio family with verbose output
  go run cmd/seed-catalog/main.go -verify -family studio -verbose
`)
}
