package ingest

import (
	"errors"

	"sitehive/internal/database"
)

var (
	// ErrSiteOrHutRequired is returned when a batch names neither a site nor a hut.
	ErrSiteOrHutRequired = errors.New("siteCode or hutCode is required")
	// ErrHutUnassigned is returned when the batch's hut has no open assignment,
	// so there is no site to write against.
	ErrHutUnassigned = errors.New("hut is not assigned to a site")
	ErrInvalidBatch  = errors.New("invalid batch")
	ErrUnauthorized  = errors.New("unauthorized")

	ErrHutNotFound  = database.ErrHutNotFound
	ErrSiteNotFound = database.ErrSiteNotFound
)
