// Package core contains the mailflow job model and the per-mailbox scheduler
// that executes jobs on a bounded worker pool with linear retry backoff.
// Collaborators (escalation sinks, dead-letter journals, hooks, metrics) are
// declared here as contracts; core must not depend on their implementations.
package core
