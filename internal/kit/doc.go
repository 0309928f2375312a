// Package kit builds a project from its configuration file: the database
// engine and its scoped sessions, the web application and the task
// application, each created lazily on first use. It loads the project's
// modules in order and removes the session of every request and task once
// it is done, committing first when the component's autocommit is on.
package kit
