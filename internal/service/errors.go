package service

import "errors"

// Sentinel errors for service layer
var (
	ErrStackNotFound     = errors.New("stack not found")
	ErrAborted           = errors.New("aborted")
	ErrNoDatabaseService = errors.New("no database service found")
	ErrNoBackups         = errors.New("no backups found")
	ErrTimeout           = errors.New("timed out waiting for services")
	ErrServiceFailed     = errors.New("service failed to start")
	ErrEmptyDump         = errors.New("database dump is empty")
	ErrChecksumMismatch  = errors.New("backup checksum mismatch")
	ErrValidation        = errors.New("validation error")
)
