// Package scrape defines the core types and capability interfaces shared by
// the orchestration layer: jobs and their outcomes, extraction strategies,
// the document-access abstraction, and the contracts for archiving, text
// extraction, queueing, clocks, and id generation.
package scrape
