package vectorindex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBolt(t *testing.T, dir string) *BoltIndex {
	t.Helper()
	idx, err := OpenBolt(dir, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func meta(caseName string) Metadata {
	return Metadata{CaseID: "1", CaseName: caseName, Text: caseName + " text"}
}

func TestBoltQueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	idx := openTestBolt(t, t.TempDir())
	require.NoError(t, idx.CreateCollection(ctx, "cases", MetricL2))

	err := idx.Add(ctx, "cases",
		[]string{"1-10-0", "1-10-1", "1-10-2"},
		[][]float32{{0, 0}, {3, 0}, {1, 0}},
		[]Metadata{meta("A"), meta("B"), meta("C")},
		[]string{"1", "1", "1"},
	)
	require.NoError(t, err)

	results, err := idx.Query(ctx, "cases", []float32{0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"1-10-0", "1-10-2", "1-10-1"}, []string{results[0].ID, results[1].ID, results[2].ID})
	assert.Equal(t, 9.0, results[2].Distance)
	assert.Equal(t, "B", results[2].Metadata.CaseName)

	top, err := idx.Query(ctx, "cases", []float32{0, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestBoltEmptyCollectionQuery(t *testing.T) {
	ctx := context.Background()
	idx := openTestBolt(t, t.TempDir())
	require.NoError(t, idx.CreateCollection(ctx, "cases", MetricCosine))

	results, err := idx.Query(ctx, "cases", []float32{1, 0}, 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBoltMissingCollection(t *testing.T) {
	ctx := context.Background()
	idx := openTestBolt(t, t.TempDir())

	_, err := idx.Query(ctx, "nope", []float32{1}, 1)
	assert.True(t, errors.Is(err, ErrNotFound))

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.Collection)

	err = idx.Add(ctx, "nope", []string{"1-1-0"}, [][]float32{{1}}, []Metadata{{}}, []string{"1"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBoltAddValidation(t *testing.T) {
	ctx := context.Background()
	idx := openTestBolt(t, t.TempDir())
	require.NoError(t, idx.CreateCollection(ctx, "cases", MetricCosine))
	require.NoError(t, idx.Add(ctx, "cases", []string{"1-1-0"}, [][]float32{{1, 0}}, []Metadata{{}}, []string{"1"}))

	tests := []struct {
		name      string
		ids       []string
		vectors   [][]float32
		metadatas []Metadata
		documents []string
	}{
		{"length mismatch", []string{"1-1-1", "1-1-2"}, [][]float32{{1, 0}}, []Metadata{{}, {}}, []string{"1", "1"}},
		{"malformed id", []string{"no chunk"}, [][]float32{{1, 0}}, []Metadata{{}}, []string{"1"}},
		{"missing chunk index", []string{"1-1-x"}, [][]float32{{1, 0}}, []Metadata{{}}, []string{"1"}},
		{"dimension change", []string{"1-1-1"}, [][]float32{{1, 0, 0}}, []Metadata{{}}, []string{"1"}},
		{"empty batch", nil, nil, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := idx.Add(ctx, "cases", tt.ids, tt.vectors, tt.metadatas, tt.documents)
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}

	count, err := idx.Count(ctx, "cases")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBoltDuplicateIDOverwrites(t *testing.T) {
	ctx := context.Background()
	idx := openTestBolt(t, t.TempDir())
	require.NoError(t, idx.CreateCollection(ctx, "cases", MetricCosine))

	require.NoError(t, idx.Add(ctx, "cases", []string{"1-1-0"}, [][]float32{{1, 0}}, []Metadata{meta("old")}, []string{"1"}))
	require.NoError(t, idx.Add(ctx, "cases", []string{"1-1-0"}, [][]float32{{0, 1}}, []Metadata{meta("new")}, []string{"1"}))

	count, err := idx.Count(ctx, "cases")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := idx.Query(ctx, "cases", []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Metadata.CaseName)
	assert.InDelta(t, 0, results[0].Distance, 1e-9)
}

func TestBoltCreateCollectionWipes(t *testing.T) {
	ctx := context.Background()
	idx := openTestBolt(t, t.TempDir())
	require.NoError(t, idx.CreateCollection(ctx, "cases", MetricCosine))
	require.NoError(t, idx.Add(ctx, "cases", []string{"1-1-0"}, [][]float32{{1, 0}}, []Metadata{{}}, []string{"1"}))

	require.NoError(t, idx.CreateCollection(ctx, "cases", MetricInnerProduct))

	count, err := idx.Count(ctx, "cases")
	require.NoError(t, err)
	assert.Zero(t, count)

	// a new dimension is accepted after the wipe
	require.NoError(t, idx.Add(ctx, "cases", []string{"1-1-0"}, [][]float32{{1, 0, 0}}, []Metadata{{}}, []string{"1"}))
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := OpenBolt(dir, false)
	require.NoError(t, err)
	require.NoError(t, idx.CreateCollection(ctx, "cases", MetricCosine))
	require.NoError(t, idx.Add(ctx, "cases",
		[]string{"7-70-0", "7-70-1"},
		[][]float32{{1, 0}, {0, 1}},
		[]Metadata{meta("first"), meta("second")},
		[]string{"7", "7"},
	))
	require.NoError(t, idx.Close())

	reader, err := OpenBolt(dir, true)
	require.NoError(t, err)
	defer reader.Close()

	results, err := reader.Query(ctx, "cases", []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "7-70-1", results[0].ID)
	assert.Equal(t, "second", results[0].Metadata.CaseName)
	assert.Equal(t, "7", results[0].Document)

	assert.Error(t, reader.CreateCollection(ctx, "other", MetricCosine))
}

func TestOpenBoltReadOnlyMissing(t *testing.T) {
	_, err := OpenBolt(t.TempDir(), true)
	assert.Error(t, err)
}
