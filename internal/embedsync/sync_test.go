package embedsync

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"medrag/internal/article"
	"medrag/internal/vector"
)

type MockArticleStore struct {
	mock.Mock
}

func (m *MockArticleStore) ListPendingEmbeddings(ctx context.Context, category string, limit int) ([]article.Record, error) {
	args := m.Called(ctx, category, limit)
	recs, _ := args.Get(0).([]article.Record)
	return recs, args.Error(1)
}

func (m *MockArticleStore) MarkEmbeddingStatus(ctx context.Context, category, url string, status article.EmbeddingStatus) error {
	return m.Called(ctx, category, url, status).Error(0)
}

type fakeEmbedder struct {
	dims  int
	fail  map[string]error
	texts []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	if err, ok := f.fail[text]; ok {
		return nil, err
	}
	v := make([]float32, f.dims)
	for i := range v {
		v[i] = float32(len(text))
	}
	return v, nil
}

// memoryIndex keeps objects per collection and mimics delete-by-url.
type memoryIndex struct {
	mu        sync.Mutex
	objects   map[string][]vector.Object
	keepOld   bool
	upsertErr error
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{objects: map[string][]vector.Object{}}
}

func (m *memoryIndex) insert(collection string, obj vector.Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[collection] = append(m.objects[collection], obj)
}

func (m *memoryIndex) Upsert(ctx context.Context, collection string, obj vector.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if !m.keepOld {
		kept := m.objects[collection][:0]
		for _, o := range m.objects[collection] {
			if o.URL != obj.URL {
				kept = append(kept, o)
			}
		}
		m.objects[collection] = kept
	}
	m.objects[collection] = append(m.objects[collection], obj)
	return nil
}

func (m *memoryIndex) CountByURL(ctx context.Context, collection, url string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.objects[collection] {
		if o.URL == url {
			n++
		}
	}
	return n, nil
}

const merged = "merged_specializations"

func opts() Options {
	return Options{MergedCollection: merged, Dimensions: 4, BatchSize: 10}
}

func TestSyncCategory_EmbedsAndMarksDone(t *testing.T) {
	store := new(MockArticleStore)
	index := newMemoryIndex()
	emb := &fakeEmbedder{dims: 4}

	recs := []article.Record{
		{URL: "https://gut.bmj.com/content/2", Title: "Gut flora", Abstract: "Long abstract", Authors: "Smith J"},
		{URL: "https://gut.bmj.com/content/3", Title: "Liver", Abstract: "N/A", Authors: ""},
	}
	store.On("ListPendingEmbeddings", mock.Anything, "gastroenterology", 10).Return(recs, nil)
	store.On("MarkEmbeddingStatus", mock.Anything, "gastroenterology", mock.Anything, article.EmbeddingDone).Return(nil).Twice()

	res, err := New(store, emb, index, opts()).SyncCategory(context.Background(), "gastroenterology")
	require.NoError(t, err)
	assert.Equal(t, Result{Category: "gastroenterology", Scanned: 2, Embedded: 2}, res)

	for _, collection := range []string{"gastroenterology", merged} {
		for _, r := range recs {
			n, _ := index.CountByURL(context.Background(), collection, r.URL)
			assert.Equal(t, 1, n, "%s %s", collection, r.URL)
		}
	}
	assert.Equal(t, "gastroenterology", index.objects[merged][0].Specialization)
	assert.Empty(t, index.objects["gastroenterology"][0].Specialization)

	// Missing fields get zero vectors without an embedding call.
	assert.Equal(t, []string{"Gut flora", "Long abstract", "Smith J", "Liver"}, emb.texts)
	liver := index.objects["gastroenterology"][1]
	assert.Equal(t, make([]float32, 4), liver.Vectors[vector.AbstractVector])
	assert.Equal(t, make([]float32, 4), liver.Vectors[vector.AuthorsVector])
	store.AssertExpectations(t)
}

func TestSyncCategory_RetryAfterCrashLeavesOneObject(t *testing.T) {
	store := new(MockArticleStore)
	index := newMemoryIndex()
	rec := article.Record{URL: "https://gut.bmj.com/content/2", Title: "T", Abstract: "A", Authors: "S"}

	// A previous run wrote vectors twice but crashed before marking done.
	index.insert("gastroenterology", vector.Object{URL: rec.URL})
	index.insert("gastroenterology", vector.Object{URL: rec.URL})
	index.insert(merged, vector.Object{URL: rec.URL})

	store.On("ListPendingEmbeddings", mock.Anything, "gastroenterology", 10).Return([]article.Record{rec}, nil)
	store.On("MarkEmbeddingStatus", mock.Anything, "gastroenterology", rec.URL, article.EmbeddingDone).Return(nil).Once()

	s := New(store, &fakeEmbedder{dims: 4}, index, opts())
	res, err := s.SyncCategory(context.Background(), "gastroenterology")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Embedded)

	n, _ := index.CountByURL(context.Background(), "gastroenterology", rec.URL)
	assert.Equal(t, 1, n)
	n, _ = index.CountByURL(context.Background(), merged, rec.URL)
	assert.Equal(t, 1, n)
	store.AssertExpectations(t)
}

func TestSyncCategory_FailuresLeaveRecordPending(t *testing.T) {
	rec := article.Record{URL: "https://gut.bmj.com/content/2", Title: "T", Abstract: "A", Authors: "S"}

	tests := []struct {
		name  string
		emb   *fakeEmbedder
		index func() *memoryIndex
	}{
		{
			name:  "embedding error",
			emb:   &fakeEmbedder{dims: 4, fail: map[string]error{"A": errors.New("quota")}},
			index: newMemoryIndex,
		},
		{
			name:  "wrong dimension",
			emb:   &fakeEmbedder{dims: 3},
			index: newMemoryIndex,
		},
		{
			name: "vector write error",
			emb:  &fakeEmbedder{dims: 4},
			index: func() *memoryIndex {
				m := newMemoryIndex()
				m.upsertErr = errors.New("weaviate down")
				return m
			},
		},
		{
			name: "verify finds duplicates",
			emb:  &fakeEmbedder{dims: 4},
			index: func() *memoryIndex {
				m := newMemoryIndex()
				m.keepOld = true
				m.insert("gastroenterology", vector.Object{URL: rec.URL})
				return m
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockArticleStore)
			store.On("ListPendingEmbeddings", mock.Anything, "gastroenterology", 10).Return([]article.Record{rec}, nil)

			res, err := New(store, tt.emb, tt.index(), opts()).SyncCategory(context.Background(), "gastroenterology")
			assert.NoError(t, err)
			assert.Equal(t, 1, res.Skipped)
			assert.Equal(t, 0, res.Embedded)
			store.AssertNotCalled(t, "MarkEmbeddingStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSyncCategory_ListErrorAbortsCategory(t *testing.T) {
	store := new(MockArticleStore)
	store.On("ListPendingEmbeddings", mock.Anything, "cardiology", 10).Return(nil, errors.New("connection refused"))

	_, err := New(store, &fakeEmbedder{dims: 4}, newMemoryIndex(), opts()).SyncCategory(context.Background(), "cardiology")
	assert.ErrorContains(t, err, "connection refused")
}

func TestSyncCategory_StopsOnCancel(t *testing.T) {
	store := new(MockArticleStore)
	store.On("ListPendingEmbeddings", mock.Anything, "cardiology", 10).
		Return([]article.Record{{URL: "https://x.org/1", Title: "T"}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(store, &fakeEmbedder{dims: 4}, newMemoryIndex(), opts()).SyncCategory(ctx, "cardiology")
	assert.ErrorIs(t, err, context.Canceled)
	store.AssertNotCalled(t, "MarkEmbeddingStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncCategory_ListIsBounded(t *testing.T) {
	store := new(MockArticleStore)
	store.On("ListPendingEmbeddings", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), "cardiology", 10).Return([]article.Record{}, nil)

	res, err := New(store, &fakeEmbedder{dims: 4}, newMemoryIndex(), opts()).SyncCategory(context.Background(), "cardiology")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)
	store.AssertExpectations(t)
}
