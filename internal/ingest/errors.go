package ingest

import "errors"

// ErrBadRequest marks failures caused by the task's parameters rather than
// by the system, such as deleting an index that is still serving an alias.
// Callers surface these as 400s instead of scheduling failures.
var ErrBadRequest = errors.New("bad request")
