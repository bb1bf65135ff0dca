package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNoPosition    = errors.New("no open position")
	ErrContextDone   = errors.New("context cancelled")
)
