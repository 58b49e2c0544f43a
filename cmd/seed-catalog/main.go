package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/mireles/canonry/internal/seedcatalog"
)

// Default configuration constants.
const (
	defaultNumWorks   = 2500
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultTimeout    = 30 * time.Second
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		catalogPath = flag.String("catalog", "catalog.db", "Path of the catalog database to seed")
		numWorks    = flag.Int("works", defaultNumWorks, "Number of works to generate")
		family      = flag.String("family", "decade", "Computation family driven during verification")
		verify      = flag.Bool("verify", false, "Drive a refresh sweep through the service API after seeding")
		baseURL     = flag.String("url", "http://localhost:9080", "Base URL of the service")
		workers     = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent fetch workers")
		timeout     = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile  = flag.String("output", "", "Output file for generated works (default: generated_works_TIMESTAMP.json)")
		logFile     = flag.String("log", "", "Log file for run output (default: seed_log_TIMESTAMP.log)")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		seedcatalog.ShowHelp()
		return
	}

	// Setup logging
	if err := seedcatalog.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	// Create run configuration
	config := &seedcatalog.Config{
		CatalogPath: *catalogPath,
		NumWorks:    *numWorks,
		BaseURL:     *baseURL,
		Family:      *family,
		Verify:      *verify,
		Workers:     *workers,
		Timeout:     *timeout,
		OutputFile:  *outputFile,
		LogFile:     *logFile,
		Verbose:     *verbose,
	}

	// Run the seeding
	if err := seedcatalog.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Seeding failed: " + err.Error() + "\n")
		return
	}
}
