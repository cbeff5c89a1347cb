// Package transport carries payment envelopes between devices.
//
// The relay is a store-and-forward mailbox: senders POST envelopes to the
// recipient's mailbox, recipients GET pending envelopes and acknowledge the
// ones they processed. This package provides:
//   - HTTP: the relay client, implementing domain.Transport and domain.Inbox
//   - Mailbox: the in-memory mailbox state behind the relay
//   - Routes: chi handlers exposing a Mailbox over HTTP
//   - Memory: an in-process Transport and Inbox over a Mailbox, for tests
//     and single-process demos
//
// All requests are JSON over HTTP and accept a context for cancellation and
// deadlines. Non-2xx statuses are returned as errors carrying the path and
// status text.
package transport
