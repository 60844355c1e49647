package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/david325345/animetoday-docker/config"
	"github.com/david325345/animetoday-docker/models"
	"github.com/david325345/animetoday-docker/services/debrid"
)

// NyaaHTMLIndex scrapes the listing table of a Nyaa-compatible site. It is the fallback for
// mirrors that do not expose the RSS rendition.
type NyaaHTMLIndex struct {
	indexBase
}

var _ Index = (*NyaaHTMLIndex)(nil)

func NewNyaaHTMLIndex(cfg config.IndexConfig, client *http.Client) *NyaaHTMLIndex {
	return &NyaaHTMLIndex{indexBase: newIndexBase(cfg, client)}
}

func (n *NyaaHTMLIndex) Name() string {
	if n.name != "" {
		return n.name
	}
	return "nyaa-html"
}

// Column positions in a listing row.
const (
	colName     = 1
	colLinks    = 2
	colSize     = 3
	colSeeders  = 5
	colLeechers = 6
)

func (n *NyaaHTMLIndex) searchURL(q Query) string {
	params := url.Values{}
	params.Set("f", "0")
	params.Set("c", n.categoryFor(q))
	params.Set("q", q.Text)
	if q.Page > 1 {
		params.Set("p", strconv.Itoa(q.Page))
	}
	return n.baseURL + "/?" + params.Encode()
}

func (n *NyaaHTMLIndex) Search(ctx context.Context, q Query) ([]models.TorrentCandidate, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	resp, err := n.get(ctx, n.searchURL(q))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.Name(), err)
	}
	defer resp.Body.Close()

	return n.parse(resp.Body)
}

func (n *NyaaHTMLIndex) parse(r io.Reader) ([]models.TorrentCandidate, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%s: parse HTML: %w", n.Name(), err)
	}

	var results []models.TorrentCandidate
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.DataAtom == atom.Tr {
			if c, ok := n.parseRow(node); ok {
				results = append(results, c)
			}
			return
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return results, nil
}

func (n *NyaaHTMLIndex) parseRow(row *html.Node) (models.TorrentCandidate, bool) {
	var cells []*html.Node
	for child := row.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.DataAtom == atom.Td {
			cells = append(cells, child)
		}
	}
	if len(cells) <= colLeechers {
		return models.TorrentCandidate{}, false
	}

	var name, magnet string
	for _, a := range anchors(cells[colName]) {
		href := attr(a, "href")
		if strings.HasPrefix(href, "/view/") && !strings.Contains(href, "#") {
			name = attr(a, "title")
			if name == "" {
				name = textContent(a)
			}
		}
	}
	for _, a := range anchors(cells[colLinks]) {
		if href := attr(a, "href"); strings.HasPrefix(href, "magnet:") {
			magnet = href
		}
	}

	name = strings.TrimSpace(name)
	hash := debrid.InfoHash(magnet)
	if name == "" || hash == "" {
		return models.TorrentCandidate{}, false
	}

	size := strings.TrimSpace(textContent(cells[colSize]))
	seeders, _ := strconv.Atoi(strings.TrimSpace(textContent(cells[colSeeders])))
	leechers, _ := strconv.Atoi(strings.TrimSpace(textContent(cells[colLeechers])))

	return models.TorrentCandidate{
		Name:      name,
		Magnet:    magnet,
		InfoHash:  hash,
		Seeders:   seeders,
		Leechers:  leechers,
		Size:      size,
		SizeBytes: sizeBytes(size),
		Source:    n.Name(),
	}, true
}

func anchors(node *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return out
}

func attr(node *html.Node, key string) string {
	for _, a := range node.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(node *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return b.String()
}
