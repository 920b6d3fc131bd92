package domain

import (
	"errors"
	"fmt"
)

var ErrEmptyArchive = errors.New("archive is empty")

type Stage string

const (
	StageResolve Stage = "resolve"
	StageDump    Stage = "dump"
	StageUpload  Stage = "upload"
	StageCleanup Stage = "cleanup"
)

// RunError is returned by a failed run and records the stage that failed.
type RunError struct {
	Stage Stage
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

type ConfigValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid config: %s %q %s", e.Field, e.Value, e.Reason)
}

type DumpExecutionError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *DumpExecutionError) Error() string {
	msg := fmt.Sprintf("%s failed (exit code %d): %v", e.Tool, e.ExitCode, e.Err)
	if e.Stderr != "" {
		msg += ", stderr: " + e.Stderr
	}
	return msg
}

func (e *DumpExecutionError) Unwrap() error { return e.Err }

type DumpValidationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DumpValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid archive %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid archive %s: %s", e.Path, e.Reason)
}

func (e *DumpValidationError) Unwrap() error { return e.Err }

type UnreachableKind string

const (
	UnreachableBucketMissing     UnreachableKind = "bucket-missing"
	UnreachableAccessDenied      UnreachableKind = "access-denied"
	UnreachableMalformedResponse UnreachableKind = "malformed-endpoint-response"
	UnreachableUnknown           UnreachableKind = "unknown"
)

// StorageUnreachableError is returned when the pre-flight bucket check fails.
// No data has been sent when it is returned.
type StorageUnreachableError struct {
	Kind   UnreachableKind
	Bucket string
	Code   string
	Err    error
}

func (e *StorageUnreachableError) Error() string {
	return fmt.Sprintf("bucket %q unreachable (%s, code %q): %v", e.Bucket, e.Kind, e.Code, e.Err)
}

func (e *StorageUnreachableError) Unwrap() error { return e.Err }

type StorageTransferError struct {
	Bucket     string
	Key        string
	Code       string
	Message    string
	RequestID  string
	StatusCode int
	Err        error
}

func (e *StorageTransferError) Error() string {
	return fmt.Sprintf("upload s3://%s/%s failed (code %q, status %d, request id %q): %v",
		e.Bucket, e.Key, e.Code, e.StatusCode, e.RequestID, e.Err)
}

func (e *StorageTransferError) Unwrap() error { return e.Err }

// CleanupError reports a local artifact that could not be removed. It never
// fails a run.
type CleanupError struct {
	Path string
	Err  error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("remove %s: %v", e.Path, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }
