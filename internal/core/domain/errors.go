package domain

import "errors"

var (
	ErrInvalidAccountID = errors.New("invalid account id")
	ErrTooManyTargets   = errors.New("too many snapshot targets")
	ErrRateLimited      = errors.New("snapshot rate limit exceeded")
	ErrUnknownEvent     = errors.New("unknown presence event")
)
