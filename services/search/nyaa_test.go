package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david325345/animetoday-docker/config"
)

const rssFixture = `<?xml version="1.0" encoding="utf-8"?>
<rss xmlns:atom="http://www.w3.org/2005/Atom" xmlns:nyaa="https://nyaa.si/xmlns/nyaa" version="2.0">
  <channel>
    <title>Nyaa - "frieren 5" - Torrent File RSS</title>
    <item>
      <title>[SubsPlease] Sousou no Frieren - 05 (1080p) [ABCD1234].mkv</title>
      <link>https://nyaa.si/download/1.torrent</link>
      <guid isPermaLink="true">https://nyaa.si/view/1</guid>
      <nyaa:seeders>812</nyaa:seeders>
      <nyaa:leechers>15</nyaa:leechers>
      <nyaa:infoHash>0123456789ABCDEF0123456789ABCDEF01234567</nyaa:infoHash>
      <nyaa:categoryId>1_2</nyaa:categoryId>
      <nyaa:size>1.4 GiB</nyaa:size>
    </item>
    <item>
      <title>broken entry without hash</title>
      <nyaa:seeders>1</nyaa:seeders>
    </item>
  </channel>
</rss>`

const htmlFixture = `<!DOCTYPE html><html><body>
<table class="table torrent-list"><thead><tr><th>Category</th><th>Name</th></tr></thead>
<tbody>
<tr class="default">
  <td><a href="/?c=1_2" title="Anime - English-translated"></a></td>
  <td colspan="2">
    <a href="/view/2#comments" class="comments"><i class="fa fa-comments-o"></i>3</a>
    <a href="/view/2" title="[Erai-raws] Sousou no Frieren - 05 [720p].mkv">[Erai-raws] Sousou no Frieren - 05 [720p].mkv</a>
  </td>
  <td class="text-center">
    <a href="/download/2.torrent"><i class="fa fa-download"></i></a>
    <a href="magnet:?xt=urn:btih:89abcdef0123456789abcdef0123456789abcdef&amp;dn=frieren&amp;tr=http%3A%2F%2Fnyaa.tracker.wf%3A7777%2Fannounce"><i class="fa fa-magnet"></i></a>
  </td>
  <td class="text-center">702.5 MiB</td>
  <td class="text-center" data-timestamp="1700000000">2023-11-14 22:13</td>
  <td class="text-center">97</td>
  <td class="text-center">4</td>
  <td class="text-center">1500</td>
</tr>
<tr><td>malformed</td></tr>
</tbody></table></body></html>`

func TestNyaaRSSIndexSearch(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{"page": q.Get("page"), "q": q.Get("q"), "c": q.Get("c"), "p": q.Get("p")}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer srv.Close()

	idx := NewNyaaRSSIndex(config.IndexConfig{Name: "nyaa", URL: srv.URL, Category: "1_2", BroadCategory: "1_0"}, srv.Client())

	results, err := idx.Search(context.Background(), Query{Text: "Frieren 5", Page: 2, Broad: true})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, map[string]string{"page": "rss", "q": "Frieren 5", "c": "1_0", "p": "2"}, gotQuery)

	c := results[0]
	assert.Equal(t, "[SubsPlease] Sousou no Frieren - 05 (1080p) [ABCD1234].mkv", c.Name)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", c.InfoHash)
	assert.Equal(t, 812, c.Seeders)
	assert.Equal(t, 15, c.Leechers)
	assert.Equal(t, "1.4 GiB", c.Size)
	assert.Equal(t, int64(1503238553), c.SizeBytes)
	assert.Contains(t, c.Magnet, "urn:btih:0123456789abcdef0123456789abcdef01234567")
	assert.Equal(t, "nyaa", c.Source)
}

func TestNyaaHTMLIndexSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1_2", r.URL.Query().Get("c"))
		assert.Empty(t, r.URL.Query().Get("p"))
		_, _ = w.Write([]byte(htmlFixture))
	}))
	defer srv.Close()

	idx := NewNyaaHTMLIndex(config.IndexConfig{URL: srv.URL, Role: RoleSecondary}, srv.Client())
	assert.Equal(t, RoleSecondary, idx.Role())

	results, err := idx.Search(context.Background(), Query{Text: "Frieren 5", Page: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)

	c := results[0]
	assert.Equal(t, "[Erai-raws] Sousou no Frieren - 05 [720p].mkv", c.Name)
	assert.Equal(t, "89abcdef0123456789abcdef0123456789abcdef", c.InfoHash)
	assert.Equal(t, 97, c.Seeders)
	assert.Equal(t, 4, c.Leechers)
	assert.Equal(t, "702.5 MiB", c.Size)
	assert.Contains(t, c.Magnet, "&dn=frieren")
	assert.Equal(t, "nyaa-html", c.Source)
}

func TestIndexErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	idx := NewNyaaRSSIndex(config.IndexConfig{URL: srv.URL}, srv.Client())
	_, err := idx.Search(context.Background(), Query{Text: "x 1", Page: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestIndexesFromConfig(t *testing.T) {
	cfgs := config.DefaultSettings().Indexes
	cfgs = append(cfgs,
		config.IndexConfig{Name: "bogus", Type: "torznab", Enabled: true},
		config.IndexConfig{Name: "off", Type: TypeNyaaRSS, Enabled: false},
	)

	indexes, errs := IndexesFromConfig(cfgs, nil)

	assert.Len(t, indexes, 2)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnknownIndexType)
}
