package app

import (
	"net/http"

	"go.uber.org/zap"

	"offpay/internal/crypto"
	"offpay/internal/domain"
)

// Options carries runtime inputs that do not belong in the config file.
type Options struct {
	Passphrase string
	// Approver is consulted before every signature; nil approves silently.
	Approver crypto.Approver
	HTTP     *http.Client // optional; defaults to a client without timeout
	Logger   *zap.Logger

	// Relay replaces the HTTP relay built from config, e.g. with an
	// in-process transport.Memory.
	Relay Relay
	// Backend replaces the HTTP backend client built from config.
	Backend domain.Backend
	// Network replaces connectivity detection.
	Network domain.NetworkMonitor
}

// Relay is a transport that also serves the local inbox.
type Relay interface {
	domain.Transport
	domain.Inbox
}
