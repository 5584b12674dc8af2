package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Ledger errors. Validation, config and scholarship errors are final;
// ErrConcurrentModification and ErrRetryExhausted are retried by recomputing the plan.
var (
	ErrValidation             = errors.New("solicitud de pago inválida")
	ErrConfigMissing          = errors.New("monto requerido no configurado")
	ErrConcurrentModification = errors.New("el libro del estudiante cambió durante el registro")
	ErrRetryExhausted         = errors.New("no fue posible registrar el pago, intente de nuevo")
	ErrScholarshipAlreadyUsed = errors.New("la beca ya fue utilizada")
	ErrSettingsUnavailable    = errors.New("configuración escolar no disponible")
	ErrStorage                = errors.New("error de almacenamiento")
)

// ValidationError describes a rejected allocation request
type ValidationError struct {
	TrancheID uint
	Amount    decimal.Decimal
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.TrancheID == 0 {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s (tramo %d, monto %s)", ErrValidation, e.Reason, e.TrancheID, e.Amount.StringFixed(2))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(trancheID uint, amount decimal.Decimal, reason string) error {
	return &ValidationError{TrancheID: trancheID, Amount: amount, Reason: reason}
}

// ConfigMissingError reports a required tranche with no amount for a class
type ConfigMissingError struct {
	ClassID   uint
	TrancheID uint
}

func (e *ConfigMissingError) Error() string {
	return fmt.Sprintf("%s: clase %d, tramo %d", ErrConfigMissing, e.ClassID, e.TrancheID)
}

func (e *ConfigMissingError) Unwrap() error {
	return ErrConfigMissing
}

// IsRetryable reports whether recomputing the allocation may succeed
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrRetryExhausted)
}
