package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData signals that a window holds fewer samples than an operation requires.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrModelUnavailable signals that no scoring model is loaded.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrModelsNotLoaded is returned by scans when the scoring models are absent.
	ErrModelsNotLoaded = fmt.Errorf("models not loaded: %w", ErrModelUnavailable)
	// ErrChangeNotFound signals an unknown change id.
	ErrChangeNotFound = errors.New("change not found")
	// ErrStoreUnavailable marks failures of the metric store collaborator.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTimeout signals that an operation exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")
	// ErrNoResults signals that an artifact has not been written yet.
	ErrNoResults = errors.New("no results yet")
	// ErrInvalidInput marks rejected input records.
	ErrInvalidInput = errors.New("invalid input")
)

// InsufficientDataError reports how many samples were required and available.
type InsufficientDataError struct {
	Required  int
	Available int
	Window    string
}

func (e *InsufficientDataError) Error() string {
	if e.Window != "" {
		return fmt.Sprintf("insufficient data in %s window: found %d points, need at least %d", e.Window, e.Available, e.Required)
	}
	return fmt.Sprintf("insufficient data: found %d points, need at least %d", e.Available, e.Required)
}

// Is lets errors.Is match ErrInsufficientData.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}
