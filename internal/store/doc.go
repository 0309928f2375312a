// Package store defines the persistence interfaces used by the services and
// the command line, together with the errors every implementation returns.
// SQL implementations live in internal/platform/sqlstore.
package store
