package client_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetchkit/pfetch/pkg/client"
)

const content = "abcdefghijklmnopqrstuvwxyz"

func contentServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "content.txt", time.Time{}, strings.NewReader(content))
	}))
	t.Cleanup(server.Close)
	return server
}

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClassify(t *testing.T) {
	tc := []struct {
		code     int
		expected client.Status
	}{
		{200, client.StatusSuccess},
		{206, client.StatusSuccess},
		{204, client.StatusSuccess},
		{301, client.StatusSuccess},
		{304, client.StatusSuccess},
		{403, client.StatusForbidden},
		{401, client.StatusFailed},
		{404, client.StatusFailed},
		{416, client.StatusFailed},
		{500, client.StatusFailed},
		{503, client.StatusFailed},
		{0, client.StatusFailed},
	}
	for _, tc := range tc {
		t.Run(http.StatusText(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.expected, client.Classify(tc.code))
		})
	}
}

func TestTransferGet(t *testing.T) {
	server := contentServer(t)
	engine := client.NewEngine(client.Options{})

	buf := new(bytes.Buffer)
	outcome := engine.NewTransfer(server.URL, client.WithTarget(buf)).Execute(context.Background())

	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Successful())
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
	assert.Equal(t, int64(len(content)), outcome.BytesWritten)
	assert.Equal(t, server.URL, outcome.EffectiveURL)
	assert.Equal(t, content, buf.String())
}

func TestTransferHead(t *testing.T) {
	server := contentServer(t)
	engine := client.NewEngine(client.Options{})

	outcome := engine.NewTransfer(server.URL, client.WithMethod(http.MethodHead)).Execute(context.Background())

	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Successful())
	assert.Equal(t, int64(len(content)), outcome.ContentLength)
	assert.True(t, outcome.AcceptsRanges)
	assert.Zero(t, outcome.BytesWritten)
}

func TestTransferClassification(t *testing.T) {
	tc := []struct {
		name     string
		code     int
		expected client.Status
	}{
		{"forbidden", http.StatusForbidden, client.StatusForbidden},
		{"not found", http.StatusNotFound, client.StatusFailed},
		{"unauthorized", http.StatusUnauthorized, client.StatusFailed},
	}
	for _, tc := range tc {
		t.Run(tc.name, func(t *testing.T) {
			server := statusServer(t, tc.code)
			engine := client.NewEngine(client.Options{})

			outcome := engine.NewTransfer(server.URL, client.WithTarget(new(bytes.Buffer))).Execute(context.Background())
			assert.Equal(t, tc.expected, outcome.Status)
			assert.Equal(t, tc.code, outcome.StatusCode)
			assert.Zero(t, outcome.BytesWritten)
		})
	}
}

func TestTransferRange(t *testing.T) {
	server := contentServer(t)
	engine := client.NewEngine(client.Options{})

	tc := []struct {
		name     string
		opt      client.TransferOption
		header   string
		expected string
	}{
		{"closed range", client.WithRange(2, 5), "bytes=2-5", "cdef"},
		{"single byte", client.WithRange(0, 0), "bytes=0-0", "a"},
		{"open range", client.WithRangeFrom(20), "bytes=20-", "uvwxyz"},
	}
	for _, tc := range tc {
		t.Run(tc.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			transfer := engine.NewTransfer(server.URL, tc.opt, client.WithTarget(buf))
			assert.Equal(t, tc.header, transfer.RangeHeader())

			outcome := transfer.Execute(context.Background())
			require.NoError(t, outcome.Err)
			assert.Equal(t, http.StatusPartialContent, outcome.StatusCode)
			assert.Equal(t, tc.expected, buf.String())
		})
	}
}

func TestTransferRangeIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(content))
	}))
	defer server.Close()
	engine := client.NewEngine(client.Options{})

	buf := new(bytes.Buffer)
	outcome := engine.NewTransfer(server.URL, client.WithRange(2, 5), client.WithTarget(buf)).Execute(context.Background())

	assert.Equal(t, client.StatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Err, client.ErrRangeIgnored)
	assert.Zero(t, buf.Len())
}

func TestTransferExpectedLength(t *testing.T) {
	server := contentServer(t)
	engine := client.NewEngine(client.Options{})

	outcome := engine.NewTransfer(server.URL,
		client.WithTarget(new(bytes.Buffer)),
		client.WithExpectedLength(int64(len(content)+10)),
	).Execute(context.Background())
	assert.Equal(t, client.StatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Err, client.ErrShortBody)

	outcome = engine.NewTransfer(server.URL,
		client.WithTarget(new(bytes.Buffer)),
		client.WithExpectedLength(int64(len(content))),
	).Execute(context.Background())
	assert.True(t, outcome.Successful())
}

func TestTransferRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("done"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	engine := client.NewEngine(client.Options{})

	buf := new(bytes.Buffer)
	outcome := engine.NewTransfer(server.URL+"/start", client.WithTarget(buf)).Execute(context.Background())

	require.NoError(t, outcome.Err)
	assert.Equal(t, server.URL+"/final", outcome.EffectiveURL)
	assert.Equal(t, "done", buf.String())
}

func TestTransferHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer server.Close()
	engine := client.NewEngine(client.Options{Headers: map[string]string{"X-Engine": "engine"}})

	outcome := engine.NewTransfer(server.URL, client.WithHeader("X-Transfer", "transfer")).Execute(context.Background())

	require.NoError(t, outcome.Err)
	assert.Equal(t, "1", got.Get("DNT"))
	assert.Equal(t, "engine", got.Get("X-Engine"))
	assert.Equal(t, "transfer", got.Get("X-Transfer"))
	assert.True(t, strings.HasPrefix(got.Get("User-Agent"), "pfetch/"))
	assert.Empty(t, got.Get("Range"))
}

func TestTransferTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	engine := client.NewEngine(client.Options{TotalTimeout: 50 * time.Millisecond})

	outcome := engine.NewTransfer(server.URL).Execute(context.Background())
	assert.Equal(t, client.StatusFailed, outcome.Status)
	assert.Error(t, outcome.Err)
}

func TestTransferConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	engine := client.NewEngine(client.Options{})

	outcome := engine.NewTransfer(url).Execute(context.Background())
	assert.Equal(t, client.StatusFailed, outcome.Status)
	assert.Zero(t, outcome.StatusCode)
	assert.Error(t, outcome.Err)
}

func TestTransferRetries(t *testing.T) {
	const target = "http://example.com/file"

	t.Run("recovers after a server error", func(t *testing.T) {
		mockTransport := httpmock.NewMockTransport()
		mockTransport.RegisterResponder(http.MethodGet, target, httpmock.ResponderFromMultipleResponses([]*http.Response{
			httpmock.NewStringResponse(http.StatusInternalServerError, ""),
			httpmock.NewStringResponse(http.StatusOK, "payload"),
		}))
		engine := client.NewEngine(client.Options{MaxRetries: 2, Transport: mockTransport})

		buf := new(bytes.Buffer)
		outcome := engine.NewTransfer(target, client.WithTarget(buf)).Execute(context.Background())

		require.NoError(t, outcome.Err)
		assert.True(t, outcome.Successful())
		assert.Equal(t, "payload", buf.String())
		assert.Equal(t, 2, mockTransport.GetTotalCallCount())
	})

	t.Run("gives up and reports the last status", func(t *testing.T) {
		mockTransport := httpmock.NewMockTransport()
		mockTransport.RegisterResponder(http.MethodGet, target, httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))
		engine := client.NewEngine(client.Options{MaxRetries: 1, Transport: mockTransport})

		outcome := engine.NewTransfer(target).Execute(context.Background())

		assert.Equal(t, client.StatusFailed, outcome.Status)
		assert.Equal(t, http.StatusServiceUnavailable, outcome.StatusCode)
		assert.Equal(t, 2, mockTransport.GetTotalCallCount())
	})

	t.Run("forbidden is not retried", func(t *testing.T) {
		mockTransport := httpmock.NewMockTransport()
		mockTransport.RegisterResponder(http.MethodGet, target, httpmock.NewStringResponder(http.StatusForbidden, ""))
		engine := client.NewEngine(client.Options{MaxRetries: 3, Transport: mockTransport})

		outcome := engine.NewTransfer(target).Execute(context.Background())

		assert.True(t, outcome.Forbidden())
		assert.Equal(t, 1, mockTransport.GetTotalCallCount())
	})
}

func TestTransferBody(t *testing.T) {
	var method, contentType, body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		_, _ = w.Write([]byte("accepted"))
	}))
	defer server.Close()
	engine := client.NewEngine(client.Options{})

	buf := new(bytes.Buffer)
	outcome := engine.NewTransfer(server.URL,
		client.WithMethod(http.MethodPost),
		client.WithBody(strings.NewReader("a=1&b=2"), "application/x-www-form-urlencoded"),
		client.WithTarget(buf),
	).Execute(context.Background())

	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Successful())
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "application/x-www-form-urlencoded", contentType)
	assert.Equal(t, "a=1&b=2", body)
	assert.Equal(t, "accepted", buf.String())
}

func TestBatchOwnership(t *testing.T) {
	server := contentServer(t)
	engine := client.NewEngine(client.Options{})
	transfer := engine.NewTransfer(server.URL)

	batch := client.NewBatch()
	require.NoError(t, batch.Add(transfer))
	assert.Equal(t, 1, batch.Len())

	outcome := transfer.Execute(context.Background())
	assert.ErrorIs(t, outcome.Err, client.ErrTransferOwned)

	other := client.NewBatch()
	assert.ErrorIs(t, other.Add(transfer), client.ErrTransferOwned)
	assert.ErrorIs(t, other.Remove(transfer), client.ErrNotInBatch)

	require.NoError(t, batch.Remove(transfer))
	assert.Zero(t, batch.Len())
	outcome = transfer.Execute(context.Background())
	assert.NoError(t, outcome.Err)
	assert.True(t, outcome.Successful())

	require.NoError(t, other.Add(transfer))
	other.Close()
	assert.Zero(t, other.Len())
	assert.True(t, transfer.Execute(context.Background()).Successful())
}

func TestBatchRun(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	engine := client.NewEngine(client.Options{})

	batch := client.NewBatch()
	defer batch.Close()
	transfers := []*client.Transfer{
		engine.NewTransfer(server.URL+"/forbidden", client.WithTarget(new(bytes.Buffer))),
		engine.NewTransfer(server.URL+"/ok", client.WithTarget(new(bytes.Buffer))),
		engine.NewTransfer(server.URL+"/missing", client.WithTarget(new(bytes.Buffer))),
	}
	for _, transfer := range transfers {
		require.NoError(t, batch.Add(transfer))
	}

	outcomes := batch.Run(context.Background())
	require.Len(t, outcomes, 3)
	assert.Equal(t, client.StatusForbidden, outcomes[0].Status)
	assert.Equal(t, client.StatusSuccess, outcomes[1].Status)
	assert.Equal(t, client.StatusFailed, outcomes[2].Status)
}

func TestBatchRunIsConcurrent(t *testing.T) {
	const n = 4
	var arrived sync.WaitGroup
	arrived.Add(n)
	allArrived := make(chan struct{})
	go func() {
		arrived.Wait()
		close(allArrived)
	}()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived.Done()
		select {
		case <-allArrived:
			_, _ = w.Write([]byte("ok"))
		case <-time.After(5 * time.Second):
			w.WriteHeader(http.StatusGatewayTimeout)
		}
	}))
	defer server.Close()
	engine := client.NewEngine(client.Options{})

	batch := client.NewBatch()
	defer batch.Close()
	for i := 0; i < n; i++ {
		require.NoError(t, batch.Add(engine.NewTransfer(server.URL)))
	}
	for _, outcome := range batch.Run(context.Background()) {
		assert.True(t, outcome.Successful())
	}
}

func TestBatchRunEmpty(t *testing.T) {
	assert.Empty(t, client.NewBatch().Run(context.Background()))
}

func TestFileJar(t *testing.T) {
	var received string
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc123", Path: "/"})
	})
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie("session"); err == nil {
			received = cookie.Value
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	path := filepath.Join(t.TempDir(), "cookies", "jar.json")
	jar, err := client.OpenFileJar(path)
	require.NoError(t, err)
	outcome := client.NewEngine(client.Options{Jar: jar}).NewTransfer(server.URL + "/login").Execute(context.Background())
	require.True(t, outcome.Successful())
	require.NoError(t, jar.Save())
	assert.FileExists(t, path)

	reopened, err := client.OpenFileJar(path)
	require.NoError(t, err)
	outcome = client.NewEngine(client.Options{Jar: reopened}).NewTransfer(server.URL + "/check").Execute(context.Background())
	require.True(t, outcome.Successful())
	assert.Equal(t, "abc123", received)
}

func TestOpenFileJarMissingFile(t *testing.T) {
	jar, err := client.OpenFileJar(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.NotNil(t, jar)
}
