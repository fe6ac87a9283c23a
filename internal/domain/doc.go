// Package domain contains the core business entities, value objects, and
// domain logic of the application: jobs and their state machine, book
// artifacts produced by the generation pipeline, credit balances, and the
// closed error code taxonomy persisted on failed jobs.
package domain
