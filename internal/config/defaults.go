package config

import "time"

// Default configuration values.
const (
	DefaultMongoURI       = "mongodb://localhost:27017"
	DefaultDumpBinary     = "mongodump"
	DefaultOutputDir      = "dump"
	DefaultConnectTimeout = 10 * time.Second

	DefaultFileName = "backup-{timestamp}"

	DefaultRetentionConcurrency = 4

	DefaultLogLevel     = "info"
	DefaultLogMaxSizeMB = 10
)
