package migrate

import (
	"context"

	"github.com/google/uuid"

	"github.com/JonMunkholm/docmigrate/internal/mapper"
	"github.com/JonMunkholm/docmigrate/internal/model"
	"github.com/JonMunkholm/docmigrate/internal/rewrite"
	"github.com/JonMunkholm/docmigrate/internal/schema"
	"github.com/JonMunkholm/docmigrate/internal/verify"
)

// Store is the relational target of a migration.
type Store interface {
	verify.Store

	// EnsureSchema creates the mapping table and the table of every entity type.
	EnsureSchema(ctx context.Context, types []model.EntityType) error
	// ApplyEvolutions applies pending evolutions and returns their versions.
	ApplyEvolutions(ctx context.Context, evolutions []schema.Evolution) ([]int, error)
	LoadMappings(ctx context.Context) ([]mapper.Mapping, error)
	LookupMapping(ctx context.Context, entityType, legacyID string) (uuid.UUID, bool, error)
	// WriteEntities upserts the rows of one entity type together with its newly
	// minted mappings in a single transaction.
	WriteEntities(ctx context.Context, et *model.EntityType, rows []*model.Row, mappings []mapper.Mapping) error
	// WriteReferences sets the foreign key columns of one entity type in a
	// single transaction.
	WriteReferences(ctx context.Context, et *model.EntityType, updates []rewrite.Update) error
}

// TransientClassifier is implemented by stores that can tell connectivity
// failures from permanent ones.
type TransientClassifier interface {
	Transient(err error) bool
}
