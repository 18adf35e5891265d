package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrRunInProgress is returned when a run is triggered while another one is still in flight.
	ErrRunInProgress = errors.New("run in progress")
	// ErrNotRunnable is returned when the repository analysis says the project can't be run.
	ErrNotRunnable = errors.New("not runnable")
)
