package storage

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned when an archived line has expired or never existed.
var ErrRecordNotFound = errors.New("storage: record not found")

// Store defines the interface for persisting data
type Store interface {
	SaveRecord(ctx context.Context, rec *Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	ListRecords(ctx context.Context, filters Filters) ([]*Record, error)

	// Health check
	Ping(ctx context.Context) error
}

// Filters for querying archived lines, newest first.
type Filters struct {
	From     time.Time
	To       time.Time
	Contains string
	Limit    int
	Offset   int
}
