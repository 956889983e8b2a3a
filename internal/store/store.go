package store

import (
	"context"

	"github.com/me/computerd/pkg/model"
)

// Store defines the persistence layer for computer records.
type Store interface {
	// SaveComputers replaces the stored set with recs. Records missing from
	// recs are deleted.
	SaveComputers(ctx context.Context, recs []model.ComputerRecord) error
	// LoadComputers returns every stored record in id order.
	LoadComputers(ctx context.Context) ([]model.ComputerRecord, error)
	// GetComputer returns nil, nil when id is not stored.
	GetComputer(ctx context.Context, id int) (*model.ComputerRecord, error)
	PutComputer(ctx context.Context, rec model.ComputerRecord) error
	DeleteComputer(ctx context.Context, id int) error

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
