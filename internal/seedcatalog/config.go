package seedcatalog

import "time"

// Config holds configuration for a catalog seeding run
type Config struct {
	CatalogPath string        // Path of the work catalog SQLite database
	NumWorks    int           // Number of works to generate
	BaseURL     string        // Base URL of the service for verification
	Family      string        // Computation family driven during verification
	Verify      bool          // Drive a refresh sweep through the service API
	Workers     int           // Number of concurrent fetch workers
	Timeout     time.Duration // HTTP request timeout
	OutputFile  string        // Output file for generated works
	LogFile     string        // Log file for run output
	Verbose     bool          // Enable verbose logging
}

// Stats holds seeding run statistics
type Stats struct {
	WorksGenerated    int
	WorksSeeded       int
	UnitsQueued       int
	PartitionsChecked int
	RankedWorks       int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
