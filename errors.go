package irkgen

import "errors"

var (
	// ErrConfiguration is returned for inconsistent dimensions, mismatched vectors,
	// redefinitions and unsupported option combinations.
	ErrConfiguration = errors.New("configuration error")
	// ErrResource is returned when an external matrix or vector cannot be read.
	ErrResource = errors.New("resource error")
	// ErrNumerical is returned when a constant matrix built at setup is singular.
	ErrNumerical = errors.New("numerical error")
)
