package ports

import "github.com/cytolabs/dcpipe/pkg/log"

// Logger is the structured logging port. It aliases the pkg/log
// interface so internal packages need no direct pkg/log import.
type Logger = log.Logger

// Field is a structured logging key-value pair.
type Field = log.Field

// Field constructors, re-exported for call-site brevity.
var (
	String   = log.String
	Int      = log.Int
	Uint64   = log.Uint64
	Float64  = log.Float64
	Bool     = log.Bool
	Duration = log.Duration
	Err      = log.Err
	Any      = log.Any
)
