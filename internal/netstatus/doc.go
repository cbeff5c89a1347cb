// Package netstatus reports whether the device can reach the backend.
//
// Checker polls an HTTP health endpoint; Manual is flipped by hand (CLI
// flags, tests). Both notify subscribers on transitions only.
package netstatus
