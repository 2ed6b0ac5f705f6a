// Package internal contains internal implementation details.
package internal

import resilinet "github.com/Bhavya700/ResiliNet-Harness"

// NullLogger is a [resilinet.Logger] that does not emit logs.
type NullLogger struct{}

// Debug implements resilinet.Logger
func (nl *NullLogger) Debug(message string) {
	// nothing
}

// Debugf implements resilinet.Logger
func (nl *NullLogger) Debugf(format string, v ...any) {
	// nothing
}

// Info implements resilinet.Logger
func (nl *NullLogger) Info(message string) {
	// nothing
}

// Infof implements resilinet.Logger
func (nl *NullLogger) Infof(format string, v ...any) {
	// nothing
}

// Warn implements resilinet.Logger
func (nl *NullLogger) Warn(message string) {
	// nothing
}

// Warnf implements resilinet.Logger
func (nl *NullLogger) Warnf(format string, v ...any) {
	// nothing
}

var _ resilinet.Logger = &NullLogger{}
