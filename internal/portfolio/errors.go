package portfolio

import "errors"

var (
	// ErrPositionExists is returned when opening a symbol that is already open.
	ErrPositionExists = errors.New("position already exists")
	// ErrPositionTooLarge is returned when a position's value exceeds the per-position cap.
	ErrPositionTooLarge = errors.New("position too large")
	// ErrInsufficientFunds is returned when available cash cannot cover the position.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConvictionScoreTooLow is returned for EXTREMELY_HIGH ideas without a qualifying score.
	ErrConvictionScoreTooLow = errors.New("conviction score too low")
	// ErrPositionNotFound is returned when closing a symbol that is not open.
	ErrPositionNotFound = errors.New("position not found")
	// ErrInvalidAmount is returned for non-positive amounts or partial closes larger than the position.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidPrice is returned for non-positive prices.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrUnknownConviction is returned when a conviction has no configured fraction.
	ErrUnknownConviction = errors.New("unknown conviction")
)
