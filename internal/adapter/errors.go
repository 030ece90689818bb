package adapter

import (
	"errors"
	"fmt"

	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

// ErrIgnoredFrame is returned for frames that carry no state (unknown
// types, frames on the wrong channel). Callers drop them silently.
var ErrIgnoredFrame = errors.New("frame ignored")

// ErrUnknownDomain is returned when Normalize has no decoder for a domain.
var ErrUnknownDomain = errors.New("no adapter for domain")

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	MalformedPayload ErrorKind = "malformed_payload"
)

// AdapterError reports a payload that could not be normalized.
type AdapterError struct {
	Domain model.Domain
	Kind   ErrorKind
	Field  string // empty when the payload as a whole failed to decode
	Err    error
}

func (e *AdapterError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("adapter: %s %s: field %s: %v", e.Kind, e.Domain, e.Field, e.Err)
	}
	return fmt.Sprintf("adapter: %s %s: %v", e.Kind, e.Domain, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// errMissing marks a required field absent or null.
var errMissing = errors.New("missing")

func malformed(domain model.Domain, field string, err error) *AdapterError {
	return &AdapterError{Domain: domain, Kind: MalformedPayload, Field: field, Err: err}
}

// IsMalformed reports whether err is an AdapterError of kind MalformedPayload.
func IsMalformed(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == MalformedPayload
}
