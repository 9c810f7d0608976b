// Package emit writes the library artifacts for a processed book: a rendered
// PDF and an ePub 3 archive, filed under the book's category directory. Both
// formats are attempted independently and artifacts are published atomically.
package emit
