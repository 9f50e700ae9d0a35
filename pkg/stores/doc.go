// Package stores provides the SQLite persistence layer of cfgport.
// It journals import runs with one row per entity result, implementing
// engine.Journal, and archives export documents by name. The schema is
// created by embedded golang-migrate migrations.
package stores
