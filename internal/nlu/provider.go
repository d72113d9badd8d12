package nlu

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Turn is one prior exchange handed to the model as context.
type Turn struct {
	User      string
	Assistant string
}

// Request is a single provider call.
type Request struct {
	System      string
	History     []Turn
	Prompt      string
	Temperature float64
	// JSON asks the provider for a bare JSON object response.
	JSON bool
}

// Provider is a remote generative model.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// TransientError marks a provider failure worth one retry (5xx, 429,
// dropped connections).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func transientStatus(code int) bool {
	return code == 429 || code >= 500
}
