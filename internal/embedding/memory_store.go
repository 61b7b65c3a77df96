package embedding

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type storedRecord struct {
	Record
	vector []float32
}

// MemoryStore is a threadsafe in-process Store. Records live only as long as
// the process.
type MemoryStore struct {
	mu       sync.RWMutex
	embedder Embedder
	records  []*storedRecord // insertion order
	now      func() time.Time
}

func NewMemoryStore(embedder Embedder) *MemoryStore {
	return &MemoryStore{embedder: embedder, now: time.Now}
}

func (s *MemoryStore) StoreCodeChunk(ctx context.Context, scope Scope, filePath, chunk string, metadata map[string]any) (string, error) {
	vec, err := s.embedder.Embed(ctx, chunk)
	if err != nil {
		return "", err
	}
	return s.insert(Record{
		Kind:     KindCodeChunk,
		Scope:    Scope{RepositoryID: scope.RepositoryID},
		FilePath: filePath,
		Content:  chunk,
		Metadata: metadata,
	}, vec), nil
}

func (s *MemoryStore) StoreCodeChunks(ctx context.Context, scope Scope, filePath string, chunks []ChunkInput) ([]string, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = s.insert(Record{
			Kind:     KindCodeChunk,
			Scope:    Scope{RepositoryID: scope.RepositoryID},
			FilePath: filePath,
			Content:  c.Content,
			Metadata: c.Metadata,
		}, vecs[i])
	}
	return ids, nil
}

func (s *MemoryStore) StoreMemory(ctx context.Context, scope Scope, memoryType, content string, metadata map[string]any) (string, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", err
	}
	return s.insert(Record{
		Kind:       KindUserMemory,
		Scope:      scope,
		MemoryType: memoryType,
		Content:    content,
		Metadata:   metadata,
	}, vec), nil
}

func (s *MemoryStore) insert(r Record, vec []float32) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = uuid.NewString()
	r.Metadata = cloneMetadata(r.Metadata)
	r.CreatedAt = s.now()
	r.UpdatedAt = r.CreatedAt
	s.records = append(s.records, &storedRecord{Record: r, vector: append([]float32(nil), vec...)})
	return r.ID
}

func (s *MemoryStore) QueryNearest(ctx context.Context, scope Scope, query string, kind Kind, limit int) ([]Record, error) {
	if limit <= 0 || !s.hasAny(scope, kind) {
		return []Record{}, nil
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Record, 0)
	for _, r := range s.records {
		if matches(r, scope, kind) {
			rec := cloneRecord(r.Record)
			rec.Distance = CosineDistance(qvec, r.vector)
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListOtherFiles(ctx context.Context, scope Scope, excludePath string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range s.records {
		if len(out) >= limit {
			break
		}
		if matches(r, scope, KindCodeChunk) && r.FilePath != excludePath {
			out = append(out, cloneRecord(r.Record))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRecentMemory(ctx context.Context, scope Scope, limit int) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0)
	// newest first; reverse insertion order keeps equal timestamps deterministic
	for i := len(s.records) - 1; i >= 0; i-- {
		if matches(s.records[i], scope, KindUserMemory) {
			out = append(out, cloneRecord(s.records[i].Record))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) hasAny(scope Scope, kind Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if matches(r, scope, kind) {
			return true
		}
	}
	return false
}

func matches(r *storedRecord, scope Scope, kind Kind) bool {
	if r.Kind != kind || r.Scope.RepositoryID != scope.RepositoryID {
		return false
	}
	if kind == KindUserMemory && r.Scope.UserID != scope.UserID {
		return false
	}
	return true
}

func cloneRecord(r Record) Record {
	r.Metadata = cloneMetadata(r.Metadata)
	return r
}

// CosineDistance returns 1 - cos(a, b). A zero vector is at distance 1 from everything.
func CosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
