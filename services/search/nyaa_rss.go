package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/david325345/animetoday-docker/config"
	"github.com/david325345/animetoday-docker/models"
	"github.com/david325345/animetoday-docker/services/debrid"
)

// Public trackers Nyaa lists on its own magnets.
var nyaaTrackers = []string{
	"http://nyaa.tracker.wf:7777/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://exodus.desync.com:6969/announce",
	"udp://tracker.torrent.eu.org:451/announce",
}

// NyaaRSSIndex queries the RSS rendition of the Nyaa search, which carries seeders, size
// and info hash in the nyaa XML namespace.
type NyaaRSSIndex struct {
	indexBase
}

var _ Index = (*NyaaRSSIndex)(nil)

func NewNyaaRSSIndex(cfg config.IndexConfig, client *http.Client) *NyaaRSSIndex {
	return &NyaaRSSIndex{indexBase: newIndexBase(cfg, client)}
}

func (n *NyaaRSSIndex) Name() string {
	if n.name != "" {
		return n.name
	}
	return "nyaa-rss"
}

type nyaaFeed struct {
	XMLName xml.Name    `xml:"rss"`
	Channel nyaaChannel `xml:"channel"`
}

type nyaaChannel struct {
	Items []nyaaItem `xml:"item"`
}

type nyaaItem struct {
	Title    string `xml:"title"`
	Link     string `xml:"link"`
	GUID     string `xml:"guid"`
	Seeders  string `xml:"seeders"`
	Leechers string `xml:"leechers"`
	InfoHash string `xml:"infoHash"`
	Size     string `xml:"size"`
	Category string `xml:"categoryId"`
}

func (n *NyaaRSSIndex) searchURL(q Query) string {
	params := url.Values{}
	params.Set("page", "rss")
	params.Set("q", q.Text)
	params.Set("c", n.categoryFor(q))
	params.Set("f", "0")
	if q.Page > 1 {
		params.Set("p", strconv.Itoa(q.Page))
	}
	return n.baseURL + "/?" + params.Encode()
}

func (n *NyaaRSSIndex) Search(ctx context.Context, q Query) ([]models.TorrentCandidate, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	resp, err := n.get(ctx, n.searchURL(q))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", n.Name(), err)
	}
	return n.parse(body)
}

func (n *NyaaRSSIndex) parse(body []byte) ([]models.TorrentCandidate, error) {
	var feed nyaaFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("%s: parse XML: %w", n.Name(), err)
	}

	results := make([]models.TorrentCandidate, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		hash := strings.ToLower(strings.TrimSpace(item.InfoHash))
		if hash == "" {
			continue
		}
		name := strings.TrimSpace(item.Title)
		seeders, _ := strconv.Atoi(strings.TrimSpace(item.Seeders))
		leechers, _ := strconv.Atoi(strings.TrimSpace(item.Leechers))
		size := strings.TrimSpace(item.Size)

		results = append(results, models.TorrentCandidate{
			Name:      name,
			Magnet:    debrid.BuildMagnet(hash, name, nyaaTrackers...),
			InfoHash:  hash,
			Seeders:   seeders,
			Leechers:  leechers,
			Size:      size,
			SizeBytes: sizeBytes(size),
			Source:    n.Name(),
		})
	}
	return results, nil
}
