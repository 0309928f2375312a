// Package logger configures the process-wide slog logger from the log
// section of the configuration and carries request and task scoped loggers
// through context.Context.
package logger
