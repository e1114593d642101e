package database

import "errors"

var (
	ErrSiteNotFound   = errors.New("site not found")
	ErrHutNotFound    = errors.New("hut not found")
	ErrDeviceNotFound = errors.New("device not found")

	ErrSiteCodeTaken = errors.New("site code already exists")
	ErrHutCodeTaken  = errors.New("hut code already exists")
)

// ErrInvalidInput marks caller-correctable validation failures.
var ErrInvalidInput = errors.New("invalid input")
