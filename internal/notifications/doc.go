// Package notifications publishes workflow alerts to ntfy.
//
// Only failures and explicit test messages produce a notification; lifecycle
// events are accepted and dropped. With no topic configured NewService
// returns a no-op.
package notifications
