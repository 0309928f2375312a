// Package sqlstore implements the store interfaces and the SQL task result
// backend on top of the database engine. Statements use ? placeholders and
// are rebound to the dialect of the engine or session they run on.
package sqlstore
