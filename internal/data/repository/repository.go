package repository

import (
	"strings"

	"trip-installments/pkg/database"

	"go.uber.org/zap"
)

type Repository struct {
	Booking     BookingRepository
	Installment InstallmentRepository
	Ledger      LedgerRepository
}

func NewRepository(db database.PgxIface, log *zap.Logger) *Repository {
	return &Repository{
		Booking:     NewBookingRepository(db, log),
		Installment: NewInstallmentRepository(db, log),
		Ledger:      NewLedgerRepository(db, log),
	}
}

// prefixed qualifies a column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
