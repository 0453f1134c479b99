// Package execrequest decodes the two JSON payloads that surround a shell execution: the tool-call arguments that request it, and the result that
// reports how it went.
//
// Both decoders treat their input as untrusted model output. Extract signals a bad request with ok=false; DecodeOutcome never fails and degrades to a
// fixed failure Outcome instead.
package execrequest

import (
	"errors"
	"time"

	"github.com/codalotl/autoapprove/internal/logger"
)

var log = logger.New("execrequest")

// ErrEmptyCommand is returned by New for an empty command vector.
var ErrEmptyCommand = errors.New("execrequest: command is empty")

// Request is a structured request to execute a command. It is immutable; accessors return copies.
type Request struct {
	command    []string
	workdir    string
	hasWorkdir bool
	timeoutMS  int64
	hasTimeout bool
}

// New returns a Request for command, which must have at least one element.
func New(command []string) (Request, error) {
	if len(command) == 0 {
		return Request{}, ErrEmptyCommand
	}
	return Request{command: append([]string(nil), command...)}, nil
}

// WithWorkdir returns a copy of r with the working directory set.
func (r Request) WithWorkdir(dir string) Request {
	r.command = append([]string(nil), r.command...)
	r.workdir = dir
	r.hasWorkdir = true
	return r
}

// WithTimeoutMS returns a copy of r with the timeout set. Negative values leave the timeout unset, and values above MaxTimeoutMS are clamped.
func (r Request) WithTimeoutMS(ms int64) Request {
	r.command = append([]string(nil), r.command...)
	if ms < 0 {
		r.timeoutMS, r.hasTimeout = 0, false
		return r
	}
	if ms > MaxTimeoutMS {
		ms = MaxTimeoutMS
	}
	r.timeoutMS = ms
	r.hasTimeout = true
	return r
}

// Command returns a copy of the command vector.
func (r Request) Command() []string {
	return append([]string(nil), r.command...)
}

// Valid reports whether r has a non-empty command vector. The zero Request is not valid.
func (r Request) Valid() bool {
	return len(r.command) > 0
}

// Workdir returns the requested working directory, if one was given.
func (r Request) Workdir() (string, bool) {
	return r.workdir, r.hasWorkdir
}

// TimeoutMS returns the requested timeout in milliseconds, if one was given.
func (r Request) TimeoutMS() (int64, bool) {
	return r.timeoutMS, r.hasTimeout
}

// Timeout is TimeoutMS as a time.Duration.
func (r Request) Timeout() (time.Duration, bool) {
	if !r.hasTimeout {
		return 0, false
	}
	return time.Duration(r.timeoutMS) * time.Millisecond, true
}
