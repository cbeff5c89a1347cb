// Package domain defines core data models, collaborator contracts and the
// error taxonomy shared across offpay. It contains plain types (wire/state)
// and interfaces only.
package domain
