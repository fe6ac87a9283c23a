// Package generation defines the boundaries between the pipeline core and
// the external AI services it calls out to. Each pipeline stage depends on
// one small interface here and on the error taxonomy the adapters surface,
// never on a provider's wire format.
package generation
