// Package server implements the HTTP API: module submission, status
// polling, manifest retrieval, audio playback, deletion and QR export,
// plus the session glue and operational endpoints.
package server
