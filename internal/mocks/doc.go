// Package mocks provides hand-written in-memory implementations of the
// store and generation interfaces for tests. The stores honor the same
// contracts as the postgres implementations, including terminal-state
// protection and the conditional credit debit, so pipeline behavior can be
// tested without a database.
package mocks
