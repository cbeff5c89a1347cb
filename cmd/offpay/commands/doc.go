// Package commands defines the offpay CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init          Create the device identity and config file
//   - fingerprint   Print the identity fingerprint and public key
//   - config        Show or write the effective configuration
//   - trust, peers  Pin and list counterpart signing keys
//   - pay           Request and send a payment over the relay
//   - receive       Answer incoming payment requests
//   - queue         Inspect, export, import and retry the offline ledger
//   - sync          Push pending ledger entries to the backend
//   - settle        Summarise balances, suggest settlements, list conflicts
//   - reconcile     Compare the ledger with a peer export or the backend
//   - start         Run the relay listener, checker and synchronizer
//
// # Implementation
//
// The root command resolves configuration (flags, OFFPAY_* environment,
// offpay.yaml, defaults) and the logger before any subcommand runs.
// Subcommands that touch the ledger build the dependency graph through
// internal/app with the passphrase from -p, OFFPAY_PASSPHRASE or a prompt.
package commands
