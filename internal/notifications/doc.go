// Package notifications delivers pipeline events via ntfy.
//
// The implementation publishes to the topic configured under
// [notifications] and degrades to a no-op when no topic is set. Run
// and error events honor their config gates so operators can keep one
// class of pings without the other.
//
// Pipeline code depends only on the Service interface, so alternative
// transports slot in without touching call sites.
package notifications
