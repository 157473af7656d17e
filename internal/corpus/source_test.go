package corpus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSource(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "dair-ai__emotion")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train.jsonl"),
		[]byte("{\"text\":\"first row\",\"label\":0}\n\n{\"text\":\"second row\",\"label\":1}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.jsonl"), []byte("{\"text\":\"held out\"}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	src := NewDirSource(root)
	ctx := context.Background()

	splits, err := src.Splits(ctx, "dair-ai/emotion")
	require.NoError(t, err)
	assert.Equal(t, []string{"test", "train"}, splits)

	rows, err := src.Rows(ctx, "dair-ai/emotion", "train")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "second row", rows[1]["text"])

	_, err = src.Splits(ctx, "missing/dataset")
	assert.Error(t, err)
}

func TestDirSourceRejectsMalformedRows(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "x")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train.jsonl"), []byte("{\"text\":\"ok\"}\n{not json\n"), 0o644))

	_, err := NewDirSource(root).Rows(context.Background(), "x", "train")
	assert.Error(t, err)
}

func TestHuggingFaceSourcePaginates(t *testing.T) {
	const total = 5
	var (
		mu      sync.Mutex
		configs []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "Amod/mental_health_counseling_conversations", q.Get("dataset"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/splits":
			json.NewEncoder(w).Encode(map[string]any{"splits": []map[string]string{
				{"config": "other", "split": "train"},
				{"config": "default", "split": "train"},
			}})
		case "/rows":
			mu.Lock()
			configs = append(configs, q.Get("config"))
			mu.Unlock()
			offset, _ := strconv.Atoi(q.Get("offset"))
			length, _ := strconv.Atoi(q.Get("length"))
			assert.Equal(t, 2, length)

			var rows []map[string]any
			for i := offset; i < min(offset+length, total); i++ {
				rows = append(rows, map[string]any{"row_idx": i, "row": map[string]any{"Context": "row " + strconv.Itoa(i)}})
			}
			json.NewEncoder(w).Encode(map[string]any{"rows": rows, "num_rows_total": total})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewHuggingFaceSource(srv.URL, 2, "secret")
	ctx := context.Background()
	dataset := "Amod/mental_health_counseling_conversations"

	splits, err := src.Splits(ctx, dataset)
	require.NoError(t, err)
	assert.Equal(t, []string{"train"}, splits)

	rows, err := src.Rows(ctx, dataset, "train")
	require.NoError(t, err)
	require.Len(t, rows, total)
	assert.Equal(t, "row 4", rows[4]["Context"])
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"default", "default", "default"}, configs)
}

type recordedSleeps struct {
	waits []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestHuggingFaceSourceHTTPError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	src := NewHuggingFaceSource(srv.URL, 100, "")
	src.sleep = sleeps.sleep

	_, err := src.Splits(context.Background(), "dair-ai/emotion")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(maxRequestAttempts), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps.waits)
}

func TestHuggingFaceSourceHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"splits": []map[string]string{{"dataset": "dair-ai/emotion", "config": "default", "split": "train"}},
		})
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	src := NewHuggingFaceSource(srv.URL, 100, "")
	src.sleep = sleeps.sleep

	splits, err := src.Splits(context.Background(), "dair-ai/emotion")
	require.NoError(t, err)
	assert.Equal(t, []string{"train"}, splits)
	assert.Equal(t, []time.Duration{time.Second}, sleeps.waits)
}

func TestHuggingFaceSourceDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such dataset", http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewHuggingFaceSource(srv.URL, 100, "")
	src.sleep = (&recordedSleeps{}).sleep

	_, err := src.Splits(context.Background(), "missing/dataset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryWait(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryWait(http.Header{}, 1))
	assert.Equal(t, 7*time.Second, retryWait(http.Header{"Retry-After": {"7"}}, 1))
	assert.Equal(t, maxRetryWait, retryWait(http.Header{"Retry-After": {"3600"}}, 1))
	assert.Equal(t, 4*time.Second, retryWait(http.Header{"Retry-After": {"soon"}}, 2))
}
