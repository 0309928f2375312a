// Package api is the web application of a kit. It builds the chi router
// with the standard middleware stack, serves static files, renders
// templates from the module root, and forwards route registration from
// modules. Handlers run inside a session scope that is torn down through
// the request_tearing_down signal once the response has been written.
package api
