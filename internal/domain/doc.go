// Package domain holds the entities shared by the stores, the auth service
// and the command line: dashboard users for now.
package domain
