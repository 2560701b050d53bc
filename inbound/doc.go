// Package inbound is the ingest boundary for gateway events. A gateway
// process posts event envelopes; the receiver verifies, decodes and hands
// them to the channel dispatcher without waiting for delivery.
package inbound
