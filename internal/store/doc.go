// Package store holds the persistence backends of the client: where its
// state lives (a JSON file or a Postgres row) and where received images go
// (a directory or a MinIO bucket).
package store
