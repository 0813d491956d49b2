// Package constants centralizes defaults shared across the CLI and the engine.
//
// File permissions, command timeouts and output caps live here so cmd/ and
// internal/ reference the same values without introducing import cycles.
package constants
