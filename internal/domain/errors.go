package domain

import "errors"

var (
	// ErrNotFound marks lookups of sessions, files, articles or settings that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks caller input that can never succeed on retry.
	ErrValidation = errors.New("validation failed")
	// ErrNoArticles is returned when an upload contains no article markers.
	ErrNoArticles = errors.New("no articles found in file")
	// ErrNotConfigured marks a missing credential or settings row.
	ErrNotConfigured = errors.New("not configured")
	// ErrLeaseLost is returned when an evaluation write finds the article no longer leased to the writer.
	ErrLeaseLost = errors.New("article lease lost")
)
