// Package workflow implements the mail-to-ticket stage chain on top of the
// core scheduler.
//
// A received message starts one workflow instance identified by the hash of
// its provider id. Each stage performs a single call against Ticketing or
// Mailbox, records the result in a copy of the Envelope and names the next
// stage. Flow turns those transitions into scheduler jobs, so every stage is
// retried on its own according to its RetryPolicy.
package workflow
