/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package errs defines the domain error carried out of repositories and the
// migration runner: a message, a stable machine-readable code and the
// original cause.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Operation codes.
const (
	CodeFetchFailed      = "FETCH_FAILED"
	CodeCreateFailed     = "CREATE_FAILED"
	CodeUpdateFailed     = "UPDATE_FAILED"
	CodeDeleteFailed     = "DELETE_FAILED"
	CodeBulkCreateFailed = "BULK_CREATE_FAILED"
	CodeMigrationFailed  = "MIGRATION_FAILED"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeConflict         = "CONFLICT"
	CodeUnexpectedResult = "UNEXPECTED_RESULT"
	CodeConnectionFailed = "CONNECTION_FAILED"
)

// Error is the error shape surfaced to callers.
type Error struct {
	Message string
	Code    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error with the same code, so sentinel-style checks like
// errors.Is(err, &errs.Error{Code: errs.CodeConflict}) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New returns an error without a cause. The stack is recorded.
func New(code, message string) error {
	return errors.WithStack(&Error{Message: message, Code: code})
}

// Wrap tags cause with code. A nil cause still yields an error.
func Wrap(cause error, code, message string) error {
	return errors.WithStack(&Error{Message: message, Code: code, Cause: cause})
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, code, format string, args ...any) error {
	return Wrap(cause, code, fmt.Sprintf(format, args...))
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of the outermost *Error, or "" when there is none.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code string) bool {
	return errors.Is(err, &Error{Code: code})
}

func IsConflict(err error) bool   { return HasCode(err, CodeConflict) }
func IsValidation(err error) bool { return HasCode(err, CodeValidationFailed) }

// RootCause returns the innermost cause of err.
func RootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return errors.Cause(err)
		}
		err = next
	}
}
