package raster

import "errors"

var (
	// ErrAlignment is returned when grids that must share a spatial frame
	// do not: shape mismatch during masking, mixed coordinate systems or
	// cell sizes during merging.
	ErrAlignment = errors.New("raster alignment mismatch")

	// ErrEmptyInput is returned when a merge or reduction is invoked with
	// no grids.
	ErrEmptyInput = errors.New("no input grids")
)
