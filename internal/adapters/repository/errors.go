package repository

import (
	"errors"
	"fmt"

	"github.com/okian/neodrop/internal/domain/failure"
)

// Sentinel kinds for repository errors. ErrNotFound and ErrInvalidLimit match
// the domain kinds under errors.Is so outer layers classify them.
var (
	ErrNotFound     = fmt.Errorf("record %w", failure.ErrNotFound)
	ErrDuplicate    = errors.New("record already exists")
	ErrInvalidLimit = fmt.Errorf("%w: limit must be positive", failure.ErrInvalidArgument)
)
