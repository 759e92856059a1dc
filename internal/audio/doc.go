// Package audio holds the PCM primitives of the conversion core: float
// sample buffers, the canonical 16-bit WAV codec, and the tone generator
// used as the terminal fallback when no real speech audio is obtainable.
package audio
