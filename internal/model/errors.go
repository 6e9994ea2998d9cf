package model

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrFileNotFound   = errors.New("file not found")
	ErrFolderNotFound = errors.New("folder not found")
	ErrLinkNotFound   = errors.New("provider link not found")
	ErrTaskNotFound   = errors.New("task not found")

	ErrFolderCopy         = errors.New("cannot move or copy a folder into itself or its subfolder")
	ErrSystemFolder       = errors.New("system folder cannot be modified")
	ErrLockedFile         = errors.New("file is locked by another user")
	ErrEditingConflict    = errors.New("file is being edited by another session")
	ErrNotSupportedFormat = errors.New("format is not supported")
	ErrConvertPassword    = errors.New("document is password protected")
	ErrTooManyDownloads   = errors.New("too many concurrent downloads")
	ErrRoomsQuota         = errors.New("rooms quota exceeded")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
)

// SecurityError reports a denied action on a named entry.
type SecurityError struct {
	Action SecurityAction
	Title  string
}

func (e *SecurityError) Error() string {
	if e.Title == "" {
		return fmt.Sprintf("access denied: %s", e.Action)
	}
	return fmt.Sprintf("access denied: %s %q", e.Action, e.Title)
}

func (e *SecurityError) Is(target error) bool { return target == ErrForbidden }

func NewSecurityError(action SecurityAction, title string) error {
	return &SecurityError{Action: action, Title: title}
}

// QuotaExceededError is returned when a file is too large to transfer.
type QuotaExceededError struct {
	Move  bool
	Size  int64
	Limit int64
}

func (e *QuotaExceededError) Error() string {
	if e.Move {
		return fmt.Sprintf("file size %d exceeds the %d bytes allowed to move between storages", e.Size, e.Limit)
	}
	return fmt.Sprintf("file size %d exceeds the %d bytes allowed to copy between storages", e.Size, e.Limit)
}

// FormatError is returned for malformed third-party identifiers.
type FormatError struct {
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid entry id %q: %s", e.Value, e.Reason)
}

func (e *FormatError) Is(target error) bool { return target == ErrInvalidInput }

// IsCancellation reports whether err stems from a cancelled or expired context.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
