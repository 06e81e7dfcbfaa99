/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"log"
	"time"
)

// Fault is the kind of a rejected command. Wrapped faults are classified
// with errors.Is.
type Fault string

func (f Fault) Error() string {
	return string(f)
}

const (
	ErrInvariantViolation Fault = "InvariantViolation"
	ErrNotFound           Fault = "NotFound"
	ErrUnauthorized       Fault = "Unauthorized"
	ErrDuplicateVote      Fault = "DuplicateVote"
	ErrDuplicateAuthor    Fault = "DuplicateAuthor"
	ErrSelfVote           Fault = "SelfVote"
	ErrDuplicatePlayer    Fault = "DuplicatePlayer"
	ErrInvalidWord        Fault = "InvalidWord"
	ErrMalformedPayload   Fault = "MalformedPayload"
	ErrSessionClosed      Fault = "SessionClosed"
)

var faults = []Fault{
	ErrInvariantViolation,
	ErrNotFound,
	ErrUnauthorized,
	ErrDuplicateVote,
	ErrDuplicateAuthor,
	ErrSelfVote,
	ErrDuplicatePlayer,
	ErrInvalidWord,
	ErrMalformedPayload,
	ErrSessionClosed,
}

// faultOf returns the kind of err, or ErrMalformedPayload for errors that
// did not originate from a command.
func faultOf(err error) Fault {
	for _, f := range faults {
		if errors.Is(err, f) {
			return f
		}
	}

	return ErrMalformedPayload
}

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

// fatalf logs regardless of verbosity.
func fatalf(format string, args ...any) {
	log.Printf("%s | FATAL: "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}
