package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpsertSQL(t *testing.T) {
	got := BuildUpsertSQL(Postgres, "customer", []string{"legacy_id", "name"})
	assert.Equal(t, `INSERT INTO "customer" ("id", "legacy_id", "name") VALUES ($1, $2, $3) ON CONFLICT ("id") DO UPDATE SET "legacy_id" = EXCLUDED."legacy_id", "name" = EXCLUDED."name"`, got)

	got = BuildUpsertSQL(SQLite, "customer", nil)
	assert.Equal(t, `INSERT INTO "customer" ("id") VALUES (?) ON CONFLICT ("id") DO NOTHING`, got)
}

func TestBuildUpdateSQL(t *testing.T) {
	got := BuildUpdateSQL(Postgres, "invoice", []string{"customer_id", "job_id"})
	assert.Equal(t, `UPDATE "invoice" SET "customer_id" = $1, "job_id" = $2 WHERE "id" = $3`, got)
}

func TestBuildEvolutionDDL(t *testing.T) {
	tests := []struct {
		name string
		step EvolutionStep
		want string
	}{
		{
			name: "rename column",
			step: EvolutionStep{Op: OpRenameColumn, Table: "invoice", Column: "cust_ref", To: "customer_ref"},
			want: `ALTER TABLE "invoice" RENAME COLUMN "cust_ref" TO "customer_ref"`,
		},
		{
			name: "add nullable column",
			step: EvolutionStep{Op: OpAddColumn, Table: "invoice", Column: "memo", Nullable: true},
			want: `ALTER TABLE "invoice" ADD COLUMN "memo" text`,
		},
		{
			name: "drop table",
			step: EvolutionStep{Op: OpDropTable, Table: "invoice_old"},
			want: `DROP TABLE IF EXISTS "invoice_old"`,
		},
		{
			name: "rename table",
			step: EvolutionStep{Op: OpRenameTable, Table: "jobs", To: "job"},
			want: `ALTER TABLE "jobs" RENAME TO "job"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildEvolutionDDL(Postgres, tt.step)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := BuildEvolutionDDL(Postgres, EvolutionStep{Op: "truncate", Table: "invoice"})
	assert.ErrorContains(t, err, "unknown evolution op")
}

func TestSortEvolutions(t *testing.T) {
	sorted, err := SortEvolutions([]Evolution{{Version: 3, Name: "c"}, {Version: 1, Name: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, sorted[0].Version)
	assert.Equal(t, 3, sorted[1].Version)

	_, err = SortEvolutions([]Evolution{{Version: 2}, {Version: 2}})
	assert.ErrorContains(t, err, "duplicate evolution version 2")
}
