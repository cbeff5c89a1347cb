// Package main runs ledgerd, the reference backend that offpay devices
// sync their ledgers to. It can also host the relay mailbox devices use to
// exchange payment messages.
//
// HTTP API
//
//	GET /health
//	    Liveness check; devices use it to detect connectivity.
//
//	POST /v1/transactions { "transaction": {...}, "force": bool }
//	    Submit a ledger entry as the authenticated device. 200 carries the
//	    server id; 409 carries the server's version of the entry.
//
//	GET /v1/transactions/{id}
//	    Return the entry as the authenticated device would record it. Only
//	    the payer and the payee can read it.
//
//	POST /msg/{device}, GET /msg/{device}?limit=N, POST /msg/{device}/ack
//	    Relay mailbox. Messages are signed end to end, so these routes carry
//	    no authentication.
//
// Devices authenticate with an HS256 bearer token whose subject is the
// device id; `ledgerd token --device <id>` issues one.
//
// Records are kept in memory and persisted to the configured storage
// driver after every accepted submission.
package main
