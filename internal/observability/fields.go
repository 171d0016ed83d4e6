package observability

import (
	"time"

	"go.uber.org/zap"
)

// Field helpers so callers don't need to import zap directly.
//
//nolint:gochecknoglobals // aliases of zap constructors
var (
	String   = zap.String
	Strings  = zap.Strings
	Int      = zap.Int
	Int64    = zap.Int64
	Bool     = zap.Bool
	Float64  = zap.Float64
	Any      = zap.Any
	Error    = zap.Error
	Duration = zap.Duration
)

// Elapsed is a duration field measured from start.
func Elapsed(start time.Time) zap.Field {
	return zap.Duration("elapsed", time.Since(start))
}
