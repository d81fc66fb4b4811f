// Package memory provides mutex-guarded, in-process implementations of the
// scraper persistence ports for local runs and tests. Every update is an
// atomic read-modify-write on a single record.
package memory
