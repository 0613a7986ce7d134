// Package store implements the durable module store: a directory-per-module
// persistence layer holding raw uploads, canonical audio, metadata and a
// textual status marker. The status marker and manifest are replaced
// atomically so concurrent status-polling readers never observe a torn value.
package store
