package download_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fetchkit/pfetch/pkg/client"
	"github.com/fetchkit/pfetch/pkg/download"
)

// testServer serves one in-memory resource and records what it was asked for.
type testServer struct {
	*httptest.Server
	content []byte

	// noRanges makes the server ignore Range headers and omit Accept-Ranges.
	noRanges bool
	// intercept may answer a request with a status code of its own; 0 means serve normally.
	intercept func(r *http.Request) int

	heads atomic.Int32
	gets  atomic.Int32

	mu     sync.Mutex
	ranges []string
}

func newTestServer(t *testing.T, content []byte) *testServer {
	t.Helper()
	ts := &testServer{content: content}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.serve))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		ts.heads.Add(1)
	} else {
		ts.gets.Add(1)
		ts.mu.Lock()
		ts.ranges = append(ts.ranges, r.Header.Get("Range"))
		ts.mu.Unlock()
	}
	if ts.intercept != nil {
		if code := ts.intercept(r); code != 0 {
			w.WriteHeader(code)
			return
		}
	}
	if ts.noRanges {
		w.Header().Set("Content-Length", strconv.Itoa(len(ts.content)))
		if r.Method != http.MethodHead {
			_, _ = w.Write(ts.content)
		}
		return
	}
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(ts.content))
}

func (ts *testServer) rangesRequested() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.ranges...)
}

// testContent returns n bytes whose value depends on their offset, so misordered or shifted
// chunks are detected.
func testContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func newDownloader(opts download.Options) *download.Downloader {
	return download.New(client.NewEngine(client.Options{}), opts)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func partialsOf(t *testing.T, dest string) []string {
	t.Helper()
	matches, err := filepath.Glob(dest + ".*partial")
	require.NoError(t, err)
	return matches
}
