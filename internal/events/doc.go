// Package events dispatches the named lifecycle signals of the kit: request
// teardown, task pre and post run, worker ready and shutdown. Components
// emit signals without knowing who listens; the kit connects the session
// teardown handlers, modules may connect their own.
package events
