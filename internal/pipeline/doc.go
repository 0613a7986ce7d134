// Package pipeline implements the background processing of training
// modules: a bounded worker pool, and the per-module sequence that
// normalizes each staged upload, obtains a transcript, writes the manifest
// and flips the module's status to its terminal state.
package pipeline
