package crawler

import "errors"

// Configuration errors surfaced by target management operations.
var (
	ErrTargetNotFound  = errors.New("crawl target not found")
	ErrDuplicateTarget = errors.New("crawl target already exists")
	ErrInvalidTarget   = errors.New("invalid crawl target")
)

// Storage errors raised while persisting discovered businesses.
var (
	ErrDuplicateBIID = errors.New("bi-id already assigned")
	ErrBIIDExhausted = errors.New("no free bi-id after retries")
)
