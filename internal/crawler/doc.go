// Package crawler holds the shared vocabulary of the archive crawler: item
// stubs, comment rows, persisted records, the collaborator interfaces the
// pipeline consumes, and the error taxonomy used to degrade failures.
package crawler
