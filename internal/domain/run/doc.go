// Package run holds the Run aggregate: one execution of a check selection
// against one target, its results, summary and lifecycle.
package run
