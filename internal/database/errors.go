package database

import "errors"

var (
	// ErrInvalidDeviceID is returned for ids that are not 8 hex characters
	ErrInvalidDeviceID = errors.New("invalid device id")
	// ErrDeviceNotFound is returned when no device exists for an id
	ErrDeviceNotFound = errors.New("device not found")
	// ErrAppNotFound is returned when a device has no app with the iname
	ErrAppNotFound = errors.New("app not found")
)
