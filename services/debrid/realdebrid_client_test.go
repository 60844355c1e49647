package debrid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david325345/animetoday-docker/models"
)

// fakeRealDebrid emulates the subset of the REST API the client uses.
type fakeRealDebrid struct {
	mu       sync.Mutex
	infoHits int
	selected string
	deleted  []string
}

func (f *fakeRealDebrid) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("GET /torrents", auth(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "OLD", "hash": "ffff"}})
	}))
	mux.HandleFunc("POST /torrents/addMagnet", auth(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Contains(t, r.PostForm.Get("magnet"), "urn:btih:")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "T1", "uri": "https://real-debrid.com/torrents/T1"})
	}))
	mux.HandleFunc("GET /torrents/info/{id}", auth(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "T1" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "unknown_ressource", "error_code": 7})
			return
		}
		f.mu.Lock()
		f.infoHits++
		hits := f.infoHits
		f.mu.Unlock()

		body := map[string]any{
			"id":     "T1",
			"hash":   "0123456789abcdef0123456789abcdef01234567",
			"status": "waiting_files_selection",
			"files": []map[string]any{
				{"id": 1, "path": "/Show - 05.mkv", "bytes": 1 << 30, "selected": 0},
				{"id": 2, "path": "/Show - 05.ass", "bytes": 1 << 10, "selected": 0},
			},
			"links": []string{},
		}
		if hits > 1 {
			body["status"] = "downloaded"
			body["progress"] = 100
			body["links"] = []string{"https://real-debrid.com/d/ABC"}
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	mux.HandleFunc("POST /torrents/selectFiles/{id}", auth(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.selected = r.PostForm.Get("files")
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("POST /unrestrict/link", auth(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       "U1",
			"filename": "Show - 05.mkv",
			"filesize": 1 << 30,
			"download": "https://cdn.real-debrid.com/Show-05.mkv",
		})
	}))
	mux.HandleFunc("DELETE /torrents/delete/{id}", auth(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	return mux
}

func newRealDebridServer(t *testing.T) (*fakeRealDebrid, *RealDebridClient) {
	t.Helper()
	fake := &fakeRealDebrid{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return fake, NewRealDebridClient("secret").WithBaseURL(srv.URL)
}

func TestRealDebridClientRoundTrip(t *testing.T) {
	fake, client := newRealDebridServer(t)
	ctx := context.Background()

	added, err := client.AddMagnet(ctx, testMagnet)
	require.NoError(t, err)
	assert.Equal(t, "T1", added.ID)

	info, err := client.GetTorrentInfo(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingSelection, Categorize(info.Status))
	require.Len(t, info.Files, 2)

	require.NoError(t, client.SelectFiles(ctx, "T1", "1"))
	assert.Equal(t, "1", fake.selected)

	res, err := client.UnrestrictLink(ctx, "https://real-debrid.com/d/ABC")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.real-debrid.com/Show-05.mkv", res.DownloadURL)

	require.NoError(t, client.DeleteTorrent(ctx, "T1"))
	assert.Equal(t, []string{"T1"}, fake.deleted)
}

func TestRealDebridClientErrors(t *testing.T) {
	_, client := newRealDebridServer(t)
	ctx := context.Background()

	_, err := client.GetTorrentInfo(ctx, "missing")
	assert.True(t, errors.Is(err, ErrTorrentNotFound), "got %v", err)

	_, err = client.FindTorrentByHash(ctx, "0123456789abcdef0123456789abcdef01234567")
	assert.True(t, errors.Is(err, ErrTorrentNotFound), "got %v", err)

	unauthorized := NewRealDebridClient("wrong").WithBaseURL(client.baseURL)
	_, err = unauthorized.AddMagnet(ctx, testMagnet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")

	_, err = NewRealDebridClient("").AddMagnet(ctx, testMagnet)
	assert.True(t, errors.Is(err, ErrNotConfigured), "got %v", err)
}

func TestEngineResolvesThroughRealDebrid(t *testing.T) {
	fake, client := newRealDebridServer(t)
	engine := NewEngine(client, nil, testPolicy(&instantTimer{}))

	out := engine.Resolve(context.Background(), testMagnet)

	require.Equal(t, models.OutcomeReady, out.Status, "reason: %s", out.Reason)
	assert.Equal(t, "https://cdn.real-debrid.com/Show-05.mkv", out.URL)
	assert.Equal(t, "1", fake.selected)
	assert.Empty(t, fake.deleted)
}

func TestProviderRegistry(t *testing.T) {
	p, ok := GetProvider("RealDebrid", "key")
	require.True(t, ok)
	assert.Equal(t, "realdebrid", p.Name())

	p, ok = GetProvider("alldebrid", "key")
	require.True(t, ok)
	assert.Equal(t, "alldebrid", p.Name())

	_, ok = GetProvider("premiumize", "key")
	assert.False(t, ok)
}
