// Package postgres implements the store interfaces on PostgreSQL through
// database/sql with the pgx stdlib driver. Job status mutations are
// conditional single-row updates so terminal jobs cannot be resurrected,
// and the credit debit is one guarded UPDATE whose row count decides
// whether the charge happened.
package postgres
