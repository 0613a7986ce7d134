// Package audio handles the canonical waveform format and normalization.
// It implements encoding, decoding and validation of mono PCM-16 WAV data,
// and converts arbitrary uploaded audio containers to that format via ffmpeg.
package audio
