package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies run failures.
type ErrorKind string

const (
	ErrorKindUnknown      ErrorKind = "unknown"
	ErrorKindFetch        ErrorKind = "fetch"
	ErrorKindArchive      ErrorKind = "archive"
	ErrorKindBoot         ErrorKind = "boot"
	ErrorKindMount        ErrorKind = "mount"
	ErrorKindSpawn        ErrorKind = "spawn"
	ErrorKindInstall      ErrorKind = "install"
	ErrorKindStart        ErrorKind = "start"
	ErrorKindSessionFatal ErrorKind = "session_fatal"
	ErrorKindTimeout      ErrorKind = "timeout"
	// ErrorKindCanceled marks runs disposed before reaching a terminal phase.
	ErrorKindCanceled ErrorKind = "canceled"
)

type kinded interface {
	Kind() ErrorKind
}

// ErrorKindOf returns the kind of the first typed run error in the chain.
func ErrorKindOf(err error) ErrorKind {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ErrorKindUnknown
}

type causeError struct {
	msg string
	err error
}

func (e causeError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e causeError) Unwrap() error { return e.err }

// FetchError is returned when the repository archive can't be retrieved.
type FetchError struct{ causeError }

// NewFetchError returns a new FetchError.
func NewFetchError(msg string, err error) *FetchError {
	return &FetchError{causeError{msg: msg, err: err}}
}

func (*FetchError) Kind() ErrorKind { return ErrorKindFetch }

// ArchiveError is returned when the repository archive can't be decoded or is empty.
type ArchiveError struct{ causeError }

// NewArchiveError returns a new ArchiveError.
func NewArchiveError(msg string, err error) *ArchiveError {
	return &ArchiveError{causeError{msg: msg, err: err}}
}

func (*ArchiveError) Kind() ErrorKind { return ErrorKindArchive }

// BootError is returned when the sandbox session can't be initialized.
type BootError struct{ causeError }

// NewBootError returns a new BootError.
func NewBootError(msg string, err error) *BootError {
	return &BootError{causeError{msg: msg, err: err}}
}

func (*BootError) Kind() ErrorKind { return ErrorKindBoot }

// MountError is returned when the file tree can't be written in the sandbox.
type MountError struct{ causeError }

// NewMountError returns a new MountError.
func NewMountError(msg string, err error) *MountError {
	return &MountError{causeError{msg: msg, err: err}}
}

func (*MountError) Kind() ErrorKind { return ErrorKindMount }

// SpawnError is returned when a command can't be started in the sandbox.
type SpawnError struct {
	causeError
	Command string
}

// NewSpawnError returns a new SpawnError.
func NewSpawnError(command string, err error) *SpawnError {
	return &SpawnError{
		causeError: causeError{msg: fmt.Sprintf("could not spawn %q", command), err: err},
		Command:    command,
	}
}

func (*SpawnError) Kind() ErrorKind { return ErrorKindSpawn }

// InstallError is returned when the dependency installation doesn't succeed.
type InstallError struct {
	Command  string
	ExitCode int
	// Err is set when the exit code couldn't be obtained.
	Err error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%q failed: %s", e.Command, e.Err)
	}
	return fmt.Sprintf("%q failed with exit code %d", e.Command, e.ExitCode)
}

func (e *InstallError) Unwrap() error   { return e.Err }
func (*InstallError) Kind() ErrorKind { return ErrorKindInstall }

// StartError is returned when none of the start commands could be spawned.
type StartError struct {
	// Attempts are the spawn errors of every start candidate, in order.
	Attempts []error
}

func (e *StartError) Error() string {
	if len(e.Attempts) == 0 {
		return "could not start the project server"
	}
	return fmt.Sprintf("could not start the project server: %s", errors.Join(e.Attempts...))
}

func (e *StartError) Unwrap() []error { return e.Attempts }
func (*StartError) Kind() ErrorKind   { return ErrorKindStart }

// SessionFatalError is returned when the sandbox session reports an unrecoverable error.
type SessionFatalError struct {
	Message string
}

func (e *SessionFatalError) Error() string {
	return fmt.Sprintf("sandbox error: %s", e.Message)
}

func (*SessionFatalError) Kind() ErrorKind { return ErrorKindSessionFatal }

// TimeoutError is returned when a run doesn't get ready within its time budget.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("the setup process took longer than %s, please try a cloud IDE for a more robust environment", e.Budget)
}

func (*TimeoutError) Kind() ErrorKind { return ErrorKindTimeout }
