package vecstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestChromem(t *testing.T) (*ChromemStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewChromemStore(dir, false, zap.NewNop())
	require.NoError(t, err)
	return s, dir
}

func rec(text string, index int, embedding []float32) Record {
	return Record{
		ID:         uuid.NewString(),
		Text:       text,
		PageNumber: 1,
		ChunkIndex: index,
		Embedding:  embedding,
	}
}

func TestChromemAddAndSearch(t *testing.T) {
	s, _ := newTestChromem(t)
	ctx := context.Background()
	docID := uuid.NewString()

	records := []Record{
		rec("alpha", 0, []float32{1, 0, 0}),
		rec("beta", 1, []float32{0, 1, 0}),
		rec("gamma", 2, []float32{0, 0, 1}),
	}
	require.NoError(t, s.AddChunks(ctx, docID, records))

	results, err := s.Search(ctx, docID, []float32{0, 1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "beta", results[0].Text)
	assert.Equal(t, records[1].ID, results[0].ChunkID)
	assert.Equal(t, docID, results[0].DocumentID)
	assert.Equal(t, 1, results[0].ChunkIndex)
	assert.Equal(t, 1, results[0].PageNumber)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestChromemSearchClampsK(t *testing.T) {
	s, _ := newTestChromem(t)
	ctx := context.Background()
	docID := uuid.NewString()

	require.NoError(t, s.AddChunks(ctx, docID, []Record{
		rec("only", 0, []float32{1, 0, 0}),
	}))

	// k beyond the stored chunk count must not error.
	results, err := s.Search(ctx, docID, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemSearchUnknownDocument(t *testing.T) {
	s, _ := newTestChromem(t)
	results, err := s.Search(context.Background(), uuid.NewString(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemDeleteDocument(t *testing.T) {
	s, _ := newTestChromem(t)
	ctx := context.Background()
	docID := uuid.NewString()

	require.NoError(t, s.AddChunks(ctx, docID, []Record{
		rec("doomed", 0, []float32{1, 0, 0}),
	}))
	require.NoError(t, s.DeleteDocument(ctx, docID))

	results, err := s.Search(ctx, docID, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Deleting again is a no-op.
	assert.NoError(t, s.DeleteDocument(ctx, docID))
}

func TestChromemPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	docID := uuid.NewString()

	s, err := NewChromemStore(dir, false, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.AddChunks(ctx, docID, []Record{
		rec("durable", 0, []float32{0.6, 0.8, 0}),
	}))
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(dir, false, zap.NewNop())
	require.NoError(t, err)
	results, err := reopened.Search(ctx, docID, []float32{0.6, 0.8, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "durable", results[0].Text)
}

func TestCollectionNameRejectsInvalidIDs(t *testing.T) {
	for _, id := range []string{"", "../escape", "a b", "x/y"} {
		_, err := collectionName(id)
		assert.Error(t, err, "id %q", id)
	}
	name, err := collectionName("0195c1f2-aaaa-bbbb-cccc-ddddeeee0001")
	require.NoError(t, err)
	assert.Equal(t, "doc_0195c1f2-aaaa-bbbb-cccc-ddddeeee0001", name)
}
