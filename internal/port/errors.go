package port

import "errors"

// Sentinel errors used across ports.
var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("token invalid")
	ErrNoEndpoint        = errors.New("no LLM endpoint reachable")
	ErrEngineUnavailable = errors.New("search engine unavailable")
	ErrEmptyEmbedding    = errors.New("empty embedding")
	ErrUnsupportedFile   = errors.New("unsupported file type")
	ErrFileTooLarge      = errors.New("file too large")
	ErrEmptyFilter       = errors.New("refusing to delete with an empty filter")
	ErrQueueFull         = errors.New("embedding queue full")
	ErrQueueClosed       = errors.New("embedding queue closed")
)
