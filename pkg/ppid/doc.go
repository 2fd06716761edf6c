// Package ppid implements pipeline identifiers: short, deterministic,
// human-inspectable fingerprints of a pipeline stage's configuration.
//
// A stage identifier has the form
//
//	code:k1=v1^k2=v2...
//
// where the keys are the shortest unambiguous prefixes of the stage's
// parameter names and boolean values render as 1/0. Identifiers are
// reproducible regardless of the order configuration was supplied in,
// decode back to the full defaults-filled parameter set, and feed the
// global pipeline hash used for caching computed artifacts.
package ppid
