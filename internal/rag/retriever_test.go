package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prmemory/internal/embedding"
)

func newStore() *embedding.MemoryStore {
	return embedding.NewMemoryStore(embedding.NewHashEmbedder(384))
}

func TestChunkLines_RoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"single line",
		"a\nb\nc",
		"trailing newline\n",
		"\n\n\n",
		strings.Repeat("x", 1200),
		strings.Repeat("line of moderate length\n", 100),
		"héllo wörld\n" + strings.Repeat("ü", 600) + "\nend",
	}
	for _, size := range []int{1, 7, 50, 500} {
		for _, in := range inputs {
			chunks := ChunkLines(in, size)
			require.Equal(t, in, strings.Join(chunks, "\n"), "size=%d", size)
		}
	}
}

func TestChunkLines_CutsAfterWholeLines(t *testing.T) {
	content := strings.Repeat("0123456789\n", 30) // 30 lines of 10 chars
	chunks := ChunkLines(content, 25)

	// 3 lines reach 30 >= 25, so every full chunk holds exactly three lines
	require.Equal(t, strings.Repeat("0123456789\n", 2)+"0123456789", chunks[0])
	for _, c := range chunks {
		for _, line := range strings.Split(c, "\n") {
			require.True(t, line == "" || line == "0123456789", "chunk boundary fell mid-line: %q", line)
		}
	}
}

func TestChunkLines_OversizedLineIsOwnChunk(t *testing.T) {
	long := strings.Repeat("y", 2000)
	chunks := ChunkLines("short\n"+long+"\ntail", 500)
	require.Equal(t, []string{"short\n" + long, "tail"}, chunks)
}

func TestIndexFile_SkipsBlankChunksAndSetsMetadata(t *testing.T) {
	store := newStore()
	r := NewRetriever(store)
	ctx := context.Background()

	content := "package main\n      \n      \nfunc main() {}"
	n, err := r.IndexFile(ctx, "repo", "main.go", content, 5)
	require.NoError(t, err)

	chunks := ChunkLines(content, 5)
	nonBlank := 0
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			nonBlank++
		}
	}
	require.Equal(t, 4, len(chunks))
	require.Equal(t, 2, nonBlank)
	require.Equal(t, nonBlank, n)

	recs, err := store.ListOtherFiles(ctx, embedding.Scope{RepositoryID: "repo"}, "", 100)
	require.NoError(t, err)
	require.Len(t, recs, n)
	for _, rec := range recs {
		require.NotEmpty(t, strings.TrimSpace(rec.Content))
		require.Equal(t, len(chunks), rec.Metadata["total_chunks"])
		require.Contains(t, rec.Metadata, "chunk_index")
	}
}

// flakyStore fails every batch write and any single write whose chunk contains "BAD".
type flakyStore struct {
	*embedding.MemoryStore
}

func (f flakyStore) StoreCodeChunks(ctx context.Context, scope embedding.Scope, filePath string, chunks []embedding.ChunkInput) ([]string, error) {
	return nil, errors.New("batch insert failed")
}

func (f flakyStore) StoreCodeChunk(ctx context.Context, scope embedding.Scope, filePath, chunk string, metadata map[string]any) (string, error) {
	if strings.Contains(chunk, "BAD") {
		return "", &embedding.EmbeddingError{Provider: "test", Err: errors.New("rejected")}
	}
	return f.MemoryStore.StoreCodeChunk(ctx, scope, filePath, chunk, metadata)
}

func TestIndexFile_ChunkFailureDoesNotAbort(t *testing.T) {
	r := NewRetriever(flakyStore{newStore()})

	content := strings.Join([]string{"good one", "BAD chunk", "good two", "good three"}, "\n")
	n, err := r.IndexFile(context.Background(), "repo", "f.go", content, 1)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestIndexFile_ConfigurationErrorAborts(t *testing.T) {
	store := embedding.NewMemoryStore(embedding.NewCheckedEmbedder(embedding.NewHashEmbedder(8), 384))
	r := NewRetriever(store)

	_, err := r.IndexFile(context.Background(), "repo", "f.go", "some code", 500)
	var cfgErr *embedding.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRetrieveContext(t *testing.T) {
	store := newStore()
	r := NewRetriever(store)
	ctx := context.Background()

	got, err := r.RetrieveContext(ctx, "empty", "anything", 5)
	require.NoError(t, err)
	require.Equal(t, "", got)

	_, err = r.IndexFile(ctx, "repo", "auth.go", "func checkToken validates bearer token", 500)
	require.NoError(t, err)
	_, err = r.IndexFile(ctx, "repo", "math.go", "func add sums integers", 500)
	require.NoError(t, err)

	got, err = r.RetrieveContext(ctx, "repo", "bearer token", 1)
	require.NoError(t, err)
	require.Equal(t, "From auth.go:\nfunc checkToken validates bearer token\n", got)

	got, err = r.RetrieveContext(ctx, "repo", "bearer token", 5)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, "From auth.go:\n"))
	require.Contains(t, got, "From math.go:\nfunc add sums integers\n")
}

func TestGetRelatedFiles_ExcludesChangedAndCaps(t *testing.T) {
	store := newStore()
	r := NewRetriever(store)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		_, err := r.IndexFile(ctx, "repo", fmt.Sprintf("pkg/file%02d.go", i), fmt.Sprintf("content %d", i), 500)
		require.NoError(t, err)
	}

	changed := []string{"pkg/file00.go", "pkg/file01.go", "pkg/file02.go"}
	related, err := r.GetRelatedFiles(ctx, "repo", changed)
	require.NoError(t, err)
	require.LessOrEqual(t, len(related), 10)
	require.NotEmpty(t, related)

	seen := map[string]bool{}
	for _, p := range related {
		require.NotContains(t, changed, p)
		require.False(t, seen[p], "duplicate %s", p)
		seen[p] = true
	}

	none, err := r.GetRelatedFiles(ctx, "other-repo", changed)
	require.NoError(t, err)
	require.Empty(t, none)
}
