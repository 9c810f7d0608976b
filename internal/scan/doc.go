// Package scan discovers book files in the input directory: a deterministic
// non-recursive scan plus an optional filesystem watcher for continuous mode.
package scan
