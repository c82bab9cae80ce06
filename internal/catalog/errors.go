// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package catalog

import (
	"errors"
	"fmt"
	"time"
)

// ConnectionError indicates the catalog store could not be reached or its
// contents could not be parsed.
type ConnectionError struct {
	Op  string
	Err error
}

func (e ConnectionError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("catalog unavailable: %v", e.Err)
	}
	return fmt.Sprintf("catalog unavailable (%s): %v", e.Op, e.Err)
}

func (e ConnectionError) Unwrap() error { return e.Err }

// QueryError indicates a malformed search request.
type QueryError struct {
	Field  string
	Reason string
}

func (e QueryError) Error() string {
	if e.Field == "" {
		return "invalid query: " + e.Reason
	}
	return fmt.Sprintf("invalid query: %s: %s", e.Field, e.Reason)
}

// ValidationError indicates an upload was rejected before any conversion work.
type ValidationError struct {
	Reason string
	Err    error
}

func (e ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e ValidationError) Unwrap() error { return e.Err }

// ProcessingError indicates a conversion, thumbnail or metadata step failed.
type ProcessingError struct {
	Step string
	Err  error
}

func (e ProcessingError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e ProcessingError) Unwrap() error { return e.Err }

// RegistrationError indicates the sidecar for a finished job could not be written.
type RegistrationError struct {
	Err error
}

func (e RegistrationError) Error() string {
	return fmt.Sprintf("registration failed: %v", e.Err)
}

func (e RegistrationError) Unwrap() error { return e.Err }

// TimeoutError indicates a caller-imposed polling budget ran out before the
// job reached a terminal state.
type TimeoutError struct {
	JobID    string
	Attempts int
	Waited   time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for job %s after %d attempts (%s)", e.JobID, e.Attempts, e.Waited.Round(time.Millisecond))
}

func NewConnectionError(op string, err error) error {
	return ConnectionError{Op: op, Err: err}
}

func NewQueryError(field, reason string) error {
	return QueryError{Field: field, Reason: reason}
}

func NewValidationError(reason string) error {
	return ValidationError{Reason: reason}
}

func NewProcessingError(step string, err error) error {
	return ProcessingError{Step: step, Err: err}
}

func NewRegistrationError(err error) error {
	return RegistrationError{Err: err}
}

func IsConnectionError(err error) bool {
	var e ConnectionError
	return errors.As(err, &e)
}

func IsQueryError(err error) bool {
	var e QueryError
	return errors.As(err, &e)
}

func IsValidationError(err error) bool {
	var e ValidationError
	return errors.As(err, &e)
}

func IsProcessingError(err error) bool {
	var e ProcessingError
	return errors.As(err, &e)
}

func IsRegistrationError(err error) bool {
	var e RegistrationError
	return errors.As(err, &e)
}

func IsTimeoutError(err error) bool {
	var e TimeoutError
	return errors.As(err, &e)
}
