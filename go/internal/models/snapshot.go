package models

import "time"

// Snapshot is the full state an observer needs before applying deltas.
// Elapsed and remaining are computed against ServerTime.
type Snapshot struct {
	Subathon         *Subathon      `json:"subathon"`
	ElapsedSeconds   int64          `json:"elapsed_seconds"`
	RemainingSeconds int64          `json:"remaining_seconds"`
	ServerTime       time.Time      `json:"server_time"`
	Version          int64          `json:"version"`
	RecentAdditions  []TimeAddition `json:"recent_additions"`
	LedgerTotal      *int64         `json:"ledger_total,omitempty"`
}
