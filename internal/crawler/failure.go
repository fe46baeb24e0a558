package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind classifies why an operation failed.
type FailureKind string

// Failure kinds understood by the retry policy and the error classifier.
const (
	KindTimeout            FailureKind = "timeout"
	KindNetwork            FailureKind = "network"
	KindNavigation         FailureKind = "navigation"
	KindStorage            FailureKind = "storage"
	KindResourceExhaustion FailureKind = "resource_exhaustion"
	KindChallenge          FailureKind = "challenge"
	KindValidation         FailureKind = "validation"
	KindExtraction         FailureKind = "extraction"
	KindCanceled           FailureKind = "canceled"
	KindUnknown            FailureKind = "unknown"
)

// Failure attaches a FailureKind to an underlying error.
type Failure struct {
	Kind FailureKind
	Op   string
	Err  error
}

// Fail wraps err with a kind and the operation that produced it.
func Fail(kind FailureKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: kind, Op: op, Err: err}
}

func (f *Failure) Error() string {
	if f.Op == "" {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("%s (%s): %v", f.Op, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf returns the most specific FailureKind found in err's chain.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindUnknown
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so RetryPolicy never retries it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
