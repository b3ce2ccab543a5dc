package source

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/JonMunkholm/docmigrate/internal/model"
)

const exportJSON = `{
  "__collections__": {
    "customers": {
      "C2": {"name": "Globex"},
      "C1": {
        "name": "Acme",
        "__collections__": {
          "jobs": {
            "J9": {"title": "roof"},
            "J7": {"title": "paint", "customerRef": "C1"}
          }
        }
      }
    },
    "invoices": {
      "I1": {"customer_ref": "C1", "amount": 1250}
    }
  }
}`

func loadTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := LoadExport(strings.NewReader(exportJSON))
	require.NoError(t, err)
	return store
}

func collect(t *testing.T, r *Reader, et *model.EntityType) []model.SourceRecord {
	t.Helper()
	var out []model.SourceRecord
	for rec, err := range r.Records(context.Background(), et) {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestReader_RootCollectionInIDOrder(t *testing.T) {
	r := NewReader(loadTestStore(t))
	recs := collect(t, r, &model.EntityType{Name: "customer", Source: "customers"})

	require.Len(t, recs, 2)
	assert.Equal(t, "customers/C1", recs[0].Origin().Path())
	assert.Equal(t, "customers/C2", recs[1].Origin().Path())

	name, ok := recs[0].Value("name")
	assert.True(t, ok)
	assert.Equal(t, "Acme", name)
	assert.NotContains(t, recs[0].FieldNames(), exportCollectionsKey)
}

func TestReader_SubcollectionTagsParent(t *testing.T) {
	r := NewReader(loadTestStore(t))
	recs := collect(t, r, &model.EntityType{Name: "job", Source: "customers/*/jobs"})

	require.Len(t, recs, 2)
	assert.Equal(t, model.Origin{Collection: "customers", ParentID: "C1", Subcollection: "jobs", DocumentID: "J7"}, recs[0].Origin())
	assert.Equal(t, "customers/C1/jobs/J9", recs[1].Origin().Path())

	parent, ok := recs[1].Value(model.ParentField)
	assert.True(t, ok)
	assert.Equal(t, "C1", parent)
}

func TestReader_RecordsIsRestartable(t *testing.T) {
	r := NewReader(loadTestStore(t))
	et := &model.EntityType{Name: "customer", Source: "customers"}

	first := collect(t, r, et)
	second := collect(t, r, et)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Origin(), second[i].Origin())
	}
}

func TestReader_RecordsAreDetachedFromStore(t *testing.T) {
	store := NewMemoryStore()
	fields := map[string]any{"tags": []any{"a"}}
	store.Put("customers", "C1", fields)

	recs := collect(t, NewReader(store), &model.EntityType{Name: "customer", Source: "customers"})
	fields["tags"].([]any)[0] = "mutated"

	tags, _ := recs[0].Value("tags")
	assert.Equal(t, []any{"a"}, tags)
}

func TestReader_EarlyBreakStopsWalk(t *testing.T) {
	r := NewReader(loadTestStore(t))
	n := 0
	for _, err := range r.Records(context.Background(), &model.EntityType{Name: "customer", Source: "customers"}) {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestReader_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReader(loadTestStore(t))
	var gotErr error
	for _, err := range r.Records(ctx, &model.EntityType{Name: "customer", Source: "customers"}) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func TestReader_InvalidSourcePath(t *testing.T) {
	r := NewReader(NewMemoryStore())
	var gotErr error
	for _, err := range r.Records(context.Background(), &model.EntityType{Name: "x", Source: "a/b/c/d"}) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, model.ErrConfig)
}

func TestReader_DiscoverAndUnbound(t *testing.T) {
	r := NewReader(loadTestStore(t))
	paths, err := r.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []PathInfo{
		{Path: "customers", Documents: 2},
		{Path: "customers/*/jobs", Documents: 2},
		{Path: "invoices", Documents: 1},
	}, paths)

	types := []model.EntityType{
		{Name: "customer", Source: "customers"},
		{Name: "job", Source: "customers/*/jobs"},
	}
	assert.Equal(t, []PathInfo{{Path: "invoices", Documents: 1}}, Unbound(paths, types))
}

func TestLoadExport_NumbersKeepDigits(t *testing.T) {
	store := loadTestStore(t)
	recs := collect(t, NewReader(store), &model.EntityType{Name: "invoice", Source: "invoices"})
	require.Len(t, recs, 1)

	amount, ok := recs[0].Value("amount")
	require.True(t, ok)
	assert.Equal(t, json.Number("1250"), amount)
}

func TestLoadExport_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `{`},
		{"missing collections", `{"customers": {}}`},
		{"nested not object", `{"__collections__": {"customers": {"C1": {"__collections__": []}}}}`},
		{"too deep", `{"__collections__": {"a": {"1": {"__collections__": {"b": {"2": {"__collections__": {"c": {}}}}}}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadExport(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestMongoDocument_Normalizes(t *testing.T) {
	oid := primitive.NewObjectID()
	when := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

	doc := mongoDocument(bson.M{
		"_id":     oid,
		"_parent": "C1",
		"ref":     oid,
		"created": primitive.NewDateTimeFromTime(when),
		"tags":    primitive.A{"x", primitive.M{"k": int32(1)}},
		"addr":    primitive.D{{Key: "city", Value: "Oslo"}},
		"gone":    primitive.Null{},
	})

	assert.Equal(t, oid.Hex(), doc.ID)
	assert.NotContains(t, doc.Fields, "_id")
	assert.NotContains(t, doc.Fields, "_parent")
	assert.Equal(t, oid.Hex(), doc.Fields["ref"])
	assert.Equal(t, when, doc.Fields["created"])
	assert.Equal(t, []any{"x", map[string]any{"k": int32(1)}}, doc.Fields["tags"])
	assert.Equal(t, map[string]any{"city": "Oslo"}, doc.Fields["addr"])
	assert.Nil(t, doc.Fields["gone"])
}

func TestParentFilter(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "_parent", Value: "C1"}}, parentFilter("C1"))

	hex := "65a1f0c2e4b0a1b2c3d4e5f6"
	oid, err := primitive.ObjectIDFromHex(hex)
	require.NoError(t, err)
	assert.Equal(t,
		bson.D{{Key: "_parent", Value: bson.D{{Key: "$in", Value: bson.A{hex, oid}}}}},
		parentFilter(hex))
}

func TestMongoID(t *testing.T) {
	assert.Equal(t, "C1", mongoID("C1"))
	assert.Equal(t, "42", mongoID(int32(42)))
	assert.Equal(t, "", mongoID(nil))
}
