package controller

import "github.com/pkg/errors"

var (
	// ErrSessionActive is returned when a session is started while another one is running.
	ErrSessionActive = errors.New("a session is already active")
	// ErrNoSession is returned when an operation needs an active session and there is none.
	ErrNoSession = errors.New("no active session")
	// ErrEndOfStream is returned by a FrameSource that has no more frames.
	ErrEndOfStream = errors.New("end of stream")
)
