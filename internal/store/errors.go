package store

import "errors"

// ErrNotFound is returned when the requested row does not exist. Repositories
// translate sql.ErrNoRows (and zero-row updates) into it so callers can map it
// to HTTP 404 with errors.Is.
var ErrNotFound = errors.New("not found")
