// Package timeouts defines shared timeout defaults.
package timeouts

import "time"

// Transaction is the default deadline for one transactional dispatch.
const Transaction = 5 * time.Second

// SQLiteBusy is how long SQLite waits on a locked database before failing.
const SQLiteBusy = 5 * time.Second

// TelemetryShutdown limits how long span flushing may take on exit.
const TelemetryShutdown = 5 * time.Second
