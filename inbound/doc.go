// Package inbound polls a mailbox folder and hands each message to the
// ingest command.
//
// Folder setup resolves (or creates) the incoming, processed and failed
// folders once; the poll loop then lists the incoming folder every check
// delay until its context is cancelled.
package inbound
