// Package notifier delivers outbound chat messages asynchronously.
//
// Callers enqueue a transport.Notification and return immediately. Workers
// send through the transport adapter under a shared rate limit, retrying
// failed sends with jittered exponential backoff. An optional dedup window
// suppresses identical notifications to the same chat.
//
// # Ordering
//
// With the default single worker, notifications reach each chat in the
// order they were enqueued. Replies to a command and change notifications
// share that queue, so a user never sees "Registration successful!" before
// "Checking if login info is valid...".
package notifier
