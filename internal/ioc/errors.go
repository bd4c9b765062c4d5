package ioc

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrNoIndicators   = errors.New("No IOCs were successfully ingested")
	ErrRunInProgress  = errors.New("pipeline run already in progress")
	ErrSaveFailed     = errors.New("Failed to save processed IOCs")
	ErrMissingValue   = errors.New("indicator value is empty")
	ErrMissingSource  = errors.New("indicator source is empty")
	ErrUnknownKind    = errors.New("unknown indicator kind")
	ErrInvalidAddress = errors.New("invalid IPv4 address")
	ErrNoBackup       = errors.New("no backup found")
)

// FetchError is a per-source ingestion failure. It never fails a run on
// its own.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NormalizationError describes a raw record that could not be normalized.
type NormalizationError struct {
	Source string
	Line   int
	Err    error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s line %d: %v", e.Source, e.Line, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// EnrichmentError leaves the record unenriched.
type EnrichmentError struct {
	Value string
	Stage string
	Err   error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrich %s (%s): %v", e.Value, e.Stage, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// PersistenceError is fatal to a run.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
