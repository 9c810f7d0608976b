// Package enrich derives descriptive metadata and a subject classification
// for a book by prompting a locally hosted model with the opening pages.
// Model failures degrade to explicit unknown values rather than failing the
// book, so a flaky or absent endpoint never blocks the pipeline.
package enrich
