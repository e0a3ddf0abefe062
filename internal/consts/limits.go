package consts

import "time"

// Buffer sizes for various operations
const (
	// BufferSize4KB is 4 kilobytes
	BufferSize4KB = 4 * 1024
	// BufferSize64KB is 64 kilobytes
	BufferSize64KB = 64 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
	// BufferSize8MB is 8 megabytes
	BufferSize8MB = 8 * 1024 * 1024
)

// Script limits
const (
	// MaxScriptSize is the largest request body accepted by default
	MaxScriptSize = BufferSize8MB
	// MaxValueDepth bounds the nesting of a harvested result value
	MaxValueDepth = 64
)

// Polling and timeouts
const (
	// PollInterval is how long a connection read waits before re-checking the stop flag
	PollInterval = 100 * time.Millisecond
	// MinPollInterval is the lower bound accepted from configuration
	MinPollInterval = 5 * time.Millisecond
	// Timeout1Second is a 1 second timeout
	Timeout1Second = 1 * time.Second
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout30Seconds is a 30 second timeout
	Timeout30Seconds = 30 * time.Second
)

// Network defaults
const (
	// DefaultHost is the listen host used when none is configured
	DefaultHost = "localhost"
	// DefaultPort is the listen port used when none is configured
	DefaultPort = 8888
)
