package model

import (
	"errors"
)

// Pipeline failures. Every error leaving the solve pipeline wraps one of them.
// Classification itself cannot fail, ErrClassification is never returned by
// the solver.
var (
	ErrClassification = errors.New("parameter classification failed")
	ErrPreparation    = errors.New("workspace preparation failed")
	ErrLaunch         = errors.New("solver launch failed")
	ErrStreamDecode   = errors.New("solver output decoding failed")
	ErrTimeout        = errors.New("solver timed out")
	ErrInterrupted    = errors.New("solver interrupted")
	ErrSolverExit     = errors.New("solver exited with an error")
)
