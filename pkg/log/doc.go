// Package log provides the structured logging abstraction used across
// dcpipe. The pipeline packages depend only on the Logger interface;
// the zerolog adapter is wired in by the CLI (or by an embedding
// application), and a noop implementation keeps tests quiet.
package log
