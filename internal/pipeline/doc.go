// Package pipeline implements the asynchronous book generation pipeline:
// the step runner that wraps each stage with timeout, retry and backoff,
// the orchestrator that drives a job through stages A-H, the bounded
// fan-out stage producing one image per slot, and the job monitor that
// detects and recovers stuck work.
package pipeline
