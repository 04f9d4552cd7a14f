package main

import (
	"errors"
	"fmt"
)

type usageError struct {
	error
}

func newUsageError(msg string) usageError {
	return usageError{error: errors.New(msg)}
}

func usageErrorf(format string, args ...interface{}) usageError {
	return newUsageError(fmt.Sprintf(format, args...))
}

var errorWantedNoArgs = newUsageError("expected no (non-flag) arguments")
