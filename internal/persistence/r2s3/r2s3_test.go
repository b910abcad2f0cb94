package r2s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]string
	auth    []string
	types   []string
}

func newFakeBucket() (*fakeBucket, *httptest.Server) {
	b := &fakeBucket{objects: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.objects[r.URL.Path] = string(body)
		b.auth = append(b.auth, r.Header.Get("Authorization"))
		b.types = append(b.types, r.Header.Get("Content-Type"))
		b.mu.Unlock()
		rw.WriteHeader(http.StatusOK)
	}))
	return b, srv
}

func (b *fakeBucket) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.objects))
	for k := range b.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestClient_PutFileSignsRequest(t *testing.T) {
	b, srv := newFakeBucket()
	defer srv.Close()

	c, err := New(Credentials{Endpoint: srv.URL, Bucket: "runs", AccessKeyID: "AK", SecretAccessKey: "SK"})
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	p := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"year":2025}`), 0o644))
	require.NoError(t, c.PutFile(context.Background(), "r1/archives/year_2025/meta.json", p))

	assert.Equal(t, `{"year":2025}`, b.objects["/runs/r1/archives/year_2025/meta.json"])
	require.Len(t, b.auth, 1)
	assert.True(t, strings.HasPrefix(b.auth[0], "AWS4-HMAC-SHA256 Credential=AK/20260102/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="))
	assert.Equal(t, "application/json", b.types[0])
}

func TestClient_RejectsBadInput(t *testing.T) {
	_, err := New(Credentials{Endpoint: "example.com"})
	assert.Error(t, err)

	c, err := New(Credentials{Endpoint: "example.com", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", c.endpoint)
	assert.Error(t, c.PutFile(context.Background(), "../escape", "x"))
}

func TestNormalizeObjectKey(t *testing.T) {
	assert.Equal(t, "a/b", normalizeObjectKey(`\a\b`))
	assert.Equal(t, "a/c", normalizeObjectKey("/a/b/../c"))
	assert.Equal(t, "", normalizeObjectKey("../x"))
	assert.Equal(t, "", normalizeObjectKey("a/../../x"))
	assert.Equal(t, "", normalizeObjectKey("a/.."))
	assert.Equal(t, "x", normalizeObjectKey("a/../x"))
	assert.Equal(t, "", normalizeObjectKey("  "))
}

func TestMirror_UploadsRunTree(t *testing.T) {
	b, srv := newFakeBucket()
	defer srv.Close()
	c, err := New(Credentials{Endpoint: srv.URL, Bucket: "bkt", AccessKeyID: "AK", SecretAccessKey: "SK"})
	require.NoError(t, err)

	root := t.TempDir()
	for _, rel := range []string{"r1/snapshots/000000004.snap.zst", "r1/turns/turns-2026010203.jsonl.zst"} {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(rel), 0o644))
	}

	m := NewMirror(c, MirrorOptions{Root: root, Prefix: "/statecraft/", Workers: 2}, zerolog.Nop())
	m.EnqueueDir(filepath.Join(root, "r1"))
	m.Enqueue(filepath.Join(t.TempDir(), "outside"))
	m.Close()
	m.Close()

	assert.Equal(t, []string{
		"/bkt/statecraft/r1/snapshots/000000004.snap.zst",
		"/bkt/statecraft/r1/turns/turns-2026010203.jsonl.zst",
	}, b.keys())
	st := m.Stats()
	assert.Equal(t, uint64(3), st.EnqueuedTotal)
	assert.Equal(t, uint64(2), st.UploadSuccessTotal)
	assert.Equal(t, uint64(0), st.UploadFailTotal)
}

type failing struct{ calls int }

func (f *failing) PutFile(context.Context, string, string) error {
	f.calls++
	return errors.New("boom")
}

func TestMirror_RetriesThenCountsFailure(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "x.json")
	require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))

	f := &failing{}
	m := NewMirror(f, MirrorOptions{Root: root, MaxAttempts: 2}, zerolog.Nop())
	m.Enqueue(p)
	m.Close()

	assert.Equal(t, 2, f.calls)
	assert.Equal(t, uint64(1), m.Stats().UploadFailTotal)
	assert.NotZero(t, m.Stats().LastErrorUnix)
}

func TestMirror_NilIsNoop(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.EnqueueDir("x")
	m.Close()
	assert.Equal(t, Stats{}, m.Stats())
}
