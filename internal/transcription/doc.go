// Package transcription produces text from canonical audio. The Transcriber
// contract never fails outward: degraded or failed transcriptions yield one
// of the defined placeholder strings instead of an error.
package transcription
