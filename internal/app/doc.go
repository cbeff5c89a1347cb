// Package app wires application dependencies for the CLI.
//
// It builds the concrete stores, transports and services from a
// config.Config, exposing them via the App struct for commands to use.
package app
