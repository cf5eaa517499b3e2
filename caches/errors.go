package caches

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("creation of cache failed for reason : %s ", ve.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (ve ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var (
	ErrValidation  = errors.New("validation failed")
	ErrNoCacheItem = errors.New("no value found in cache")
)
