package dropsim

import "time"

// Defaults applied by Config.normalize.
const (
	DefaultAccounts   = 200
	DefaultRepeats    = 3
	DefaultWorkers    = 8
	DefaultMaxRetries = 5
	DefaultTimeout    = 10 * time.Second
)

const (
	workerChannelMultiplier = 2
	defaultRetryAfter       = time.Second
	progressInterval        = time.Second
	percentageMultiplier    = 100
	outputFilePermission    = 0o600
)

// Report outcomes.
const (
	outcomeRecorded = "recorded"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)
