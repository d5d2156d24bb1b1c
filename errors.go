package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError is a recoverable, field-scoped error. It never discards
// unrelated in-progress edits; callers map it to a 400.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func validationErr(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// PermissionError is terminal for the current action. No partial state
// change happens before it is returned.
type PermissionError struct {
	Msg string
}

func (e *PermissionError) Error() string { return e.Msg }

// UploadError aggregates per-item failures from a single save. The save is
// all-or-nothing: when an UploadError is returned nothing was committed and
// the local images are still in place for a retry.
type UploadError struct {
	Failures map[int64]error
}

func (e *UploadError) Error() string {
	if len(e.Failures) == 0 {
		return "upload failed"
	}
	ids := make([]int64, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("item %d: %v", id, e.Failures[id]))
	}
	return "upload failed: " + strings.Join(parts, "; ")
}

// ErrSaveInFlight rejects a publish started while another one is still
// uploading, instead of letting two dispatches race over the same items.
var ErrSaveInFlight = errors.New("a save is already in progress")

// ErrConcurrentEdit is reported when an item was edited while its images
// were uploading; the patch-back is refused rather than clobbering the edit.
var ErrConcurrentEdit = errors.New("item edited during save")
