// Package mailflow wires mailbox polling, the ticket workflow and the
// per-mailbox job schedulers into a Runtime.
//
// Each enabled mailbox gets its own scheduler, Flow, ingest command and
// poller. Remote clients come from a ProviderFactory, usually resolved by
// name from a ProviderRegistry.
package mailflow
