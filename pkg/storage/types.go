package storage

import "time"

// Record is one archived access line.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line"`
}
