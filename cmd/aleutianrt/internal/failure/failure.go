// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package failure defines the error taxonomy shared by every provisioning
component.

Discovery and inspection never produce these errors; an absent or unusable
dependency is folded into a DependencyStatus. Errors of this package are
reserved for operations the caller explicitly asked for (start the service,
pull a model, run the installation pipeline) and carry enough context for a
frontend to render an actionable message:

	err := &failure.Error{
	    Kind:        failure.KindNetworkFailure,
	    Op:          "fetch",
	    Message:     "Failed to download Python runtime",
	    Detail:      cause.Error(),
	    Remediation: "Check your internet connection and retry",
	    Err:         cause,
	}
	fmt.Println(err.FullError())
*/
package failure

import (
	"bytes"
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Kind
// -----------------------------------------------------------------------------

// Kind categorizes provisioning failures for programmatic handling.
type Kind int

const (
	// KindUnknown is the zero value and is never set deliberately.
	KindUnknown Kind = iota

	// KindNotFound means no usable binary or runtime was located.
	// Expected during discovery, so callers should not log it as an error.
	KindNotFound

	// KindTimeout means a network call or process exceeded its bound.
	KindTimeout

	// KindExternalProcessFailure means a child process exited non-zero.
	// The wrapped error is usually a *util.CommandError with stderr attached.
	KindExternalProcessFailure

	// KindNetworkFailure is a transport-level error from a remote call.
	KindNetworkFailure

	// KindVerificationFailure means post-install inspection rejected the
	// runtime. Always fatal, never retried.
	KindVerificationFailure

	// KindPartialInstallation means one or more non-foundational libraries
	// failed to install. Recorded, does not fail the run.
	KindPartialInstallation

	// KindCancelled means the caller abandoned the operation.
	KindCancelled

	// KindLockHeld means another operation owns the target resource.
	KindLockHeld
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindExternalProcessFailure:
		return "external_process_failure"
	case KindNetworkFailure:
		return "network_failure"
	case KindVerificationFailure:
		return "verification_failure"
	case KindPartialInstallation:
		return "partial_installation"
	case KindCancelled:
		return "cancelled"
	case KindLockHeld:
		return "lock_held"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Error
// -----------------------------------------------------------------------------

// Error is a structured provisioning failure.
//
// # Description
//
// Error separates the short user-facing Message from the technical Detail
// and the Remediation hint. Op names the public operation that failed and
// Step, when set, names the installation step.
//
// # Thread Safety
//
// Error values are immutable after construction.
type Error struct {
	// Kind categorizes the failure.
	Kind Kind

	// Op is the operation identity, e.g. "ensure_running" or "pipeline".
	Op string

	// Step is the installation step at which the failure happened, if any.
	Step string

	// Message is the short human-readable description.
	Message string

	// Detail holds technical information such as the underlying error text.
	Detail string

	// Remediation is a suggested fix shown to the user.
	Remediation string

	// Err is the wrapped cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s (step: %s)", e.Message, e.Step)
	}
	return e.Message
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// FullError returns the message with detail and remediation appended.
func (e *Error) FullError() string {
	var buf bytes.Buffer
	buf.WriteString(e.Error())
	if e.Op != "" {
		buf.WriteString(fmt.Sprintf(" [%s]", e.Op))
	}
	if e.Detail != "" {
		buf.WriteString("\n\nDetails: ")
		buf.WriteString(e.Detail)
	}
	if e.Remediation != "" {
		buf.WriteString("\n\nTo fix:\n")
		buf.WriteString(e.Remediation)
	}
	return buf.String()
}

var _ error = (*Error)(nil)

// New creates an Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an Error of the given kind around cause.
//
// The cause's text becomes the Detail. Returns nil if cause is nil.
func Wrap(cause error, kind Kind, op, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Detail:  cause.Error(),
		Err:     cause,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
