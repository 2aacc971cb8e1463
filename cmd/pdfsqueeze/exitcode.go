package main

import (
	"context"
	"errors"

	"pdfsqueeze/internal/compressor"
)

// Process exit codes, one per failure kind so scripts can branch on them.
const (
	exitOK                    = 0
	exitGeneric               = 1
	exitInvalidInput          = 2
	exitInvalidProfile        = 3
	exitEngineExecutionFailed = 4
	exitEngineTimeout         = 5
	exitEngineNotFound        = 6
	exitOutputMissing         = 7
	exitCanceled              = 130
)

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	switch compressor.KindOf(err) {
	case compressor.KindInvalidInput:
		return exitInvalidInput
	case compressor.KindInvalidProfile:
		return exitInvalidProfile
	case compressor.KindEngineExecutionFailed:
		return exitEngineExecutionFailed
	case compressor.KindEngineTimeout:
		return exitEngineTimeout
	case compressor.KindEngineNotFound:
		return exitEngineNotFound
	case compressor.KindOutputMissing:
		return exitOutputMissing
	case compressor.KindCanceled:
		return exitCanceled
	}

	if errors.Is(err, context.Canceled) {
		return exitCanceled
	}
	return exitGeneric
}
