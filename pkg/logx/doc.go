// Package logx wraps zerolog behind a small structured logging API.
//
// Components receive a Logger tagged with a "comp" field. The Service
// owns the sinks (console, file) and can re-apply them at runtime when
// the configuration changes.
package logx
