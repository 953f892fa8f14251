// Package browser defines the driver contract the executor needs, a chromedp
// implementation of it, and the DOM cleaning used to feed pages to the LLM.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies driver failures.
type ErrorKind string

const (
	ErrNotFound         ErrorKind = "not_found"
	ErrNotVisible       ErrorKind = "not_visible"
	ErrTimeout          ErrorKind = "timeout"
	ErrTypeMismatch     ErrorKind = "type_mismatch"
	ErrNavigationFailed ErrorKind = "navigation_failed"
	ErrOther            ErrorKind = "other"
)

// DriverError is a classified driver failure.
type DriverError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DriverError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// Classify returns the error kind of err, defaulting to ErrOther. Context
// deadline errors classify as timeouts.
func Classify(err error) ErrorKind {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrOther
}

// QuiescenceOptions bounds the page-settled wait.
type QuiescenceOptions struct {
	// QuietWindow is how long the DOM must stay mutation-free.
	QuietWindow time.Duration
	// Cap is the absolute bound of the DOM quiescence wait.
	Cap time.Duration
	// PageLoadTimeout bounds the network-quiescence wait.
	PageLoadTimeout time.Duration
}

// Driver is the abstract browser contract. A driver instance is owned by a
// single session; implementations need not be safe for concurrent use.
type Driver interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// Click activates the clickable element whose accessible label matches.
	Click(ctx context.Context, label string) error
	// Type fills the form field identified by label with text.
	Type(ctx context.Context, label, text string) error
	// Press sends a keyboard key (e.g. "Enter", "Escape") to the page.
	Press(ctx context.Context, key string) error
	// Screenshot captures the viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// DOMHTML returns the serialized document.
	DOMHTML(ctx context.Context) (string, error)
	// CurrentURL returns the page URL.
	CurrentURL(ctx context.Context) (string, error)
	// WaitQuiescent blocks until the page settles per opts.
	WaitQuiescent(ctx context.Context, opts QuiescenceOptions) error
	// Close releases the underlying browser.
	Close() error
}
