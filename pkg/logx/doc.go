// Package logx is the agent's structured logging.
//
// A small Logger value wraps zerolog:
//   - Console lines read "[TAG] message key=value", TAG from the comp field
//   - File output is JSON, one event per line
//   - An optional chat sink forwards warnings, rate limited
package logx
