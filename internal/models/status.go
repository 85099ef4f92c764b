package models

// EntityStatus reports how an item's or participant's estimate was produced in the last round.
type EntityStatus string

const (
	// StatusInitial marks an entity that still carries its initial guess.
	StatusInitial EntityStatus = "initial"
	// StatusFitted marks a successful fit.
	StatusFitted EntityStatus = "fitted"
	// StatusInsufficientData marks an entity held at its previous value for lack of observations.
	StatusInsufficientData EntityStatus = "insufficient_data"
	// StatusFitFailed marks an entity held at its previous value after a solver failure.
	StatusFitFailed EntityStatus = "fit_failed"
)

// Held reports whether the estimate was not updated by a successful fit.
func (s EntityStatus) Held() bool {
	return s == StatusInsufficientData || s == StatusFitFailed
}
