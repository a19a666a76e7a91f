// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

// ErrorKind categorizes upload errors for handling.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidName
	KindTypeNotAllowed
	KindTooLarge
	KindNotFound
	KindStorage
)

// Error is an upload failure. Errors of the same kind match with errors.Is.
type Error struct {
	Kind     ErrorKind
	Filename string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Filename != "" {
		msg += ": " + e.Filename
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel errors for errors.Is checks.
var (
	ErrInvalidName    = &Error{Kind: KindInvalidName, Message: "invalid file name"}
	ErrTypeNotAllowed = &Error{Kind: KindTypeNotAllowed, Message: "file type not allowed"}
	ErrTooLarge       = &Error{Kind: KindTooLarge, Message: "file too large"}
	ErrNotFound       = &Error{Kind: KindNotFound, Message: "upload not found"}
)

func newError(kind ErrorKind, filename, message string, cause error) *Error {
	return &Error{Kind: kind, Filename: filename, Message: message, Cause: cause}
}
