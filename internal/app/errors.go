package service

import "errors"

var (
	// ErrSignatureExpired is returned when planning against an expired trend.
	ErrSignatureExpired = errors.New("signature expired")
	// ErrNotSelected is returned when delivering an opportunity without a winner.
	ErrNotSelected = errors.New("opportunity has no selected variant")
	// ErrUnknownTarget is returned when a delivery names a source outside the opportunity.
	ErrUnknownTarget = errors.New("source is not a target of the opportunity")
	// ErrCycleRunning is returned when a cycle is requested while one runs.
	ErrCycleRunning = errors.New("cycle already running")
)
