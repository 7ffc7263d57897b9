package main

import "errors"

// Local state errors.
var (
	ErrCorruptState   = errors.New("state file is corrupt")
	ErrAlreadyRunning = errors.New("another foldersync process is watching this folder")
)

// Remote errors.
var (
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrUnknownProvider  = errors.New("unknown remote provider")
	ErrUnknownNotifier  = errors.New("unknown notification provider")
)
