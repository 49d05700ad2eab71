package model

import "errors"

var (
	ErrInvalidResource = errors.New("invalid resource")
	ErrInvalidJob      = errors.New("invalid job")
)
