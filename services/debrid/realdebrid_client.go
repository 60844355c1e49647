package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const realDebridBaseURL = "https://api.real-debrid.com/rest/1.0"

// RealDebridClient talks to the Real-Debrid REST API.
type RealDebridClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

var _ Provider = (*RealDebridClient)(nil)

// NewRealDebridClient creates a new Real-Debrid API client.
func NewRealDebridClient(apiKey string) *RealDebridClient {
	return &RealDebridClient{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    realDebridBaseURL,
	}
}

// WithBaseURL points the client at another endpoint (used by tests).
func (c *RealDebridClient) WithBaseURL(baseURL string) *RealDebridClient {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *RealDebridClient) Name() string {
	return "realdebrid"
}

func init() {
	RegisterProvider("realdebrid", func(apiKey string) Provider {
		return NewRealDebridClient(apiKey)
	})
}

type realDebridError struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}

type realDebridTorrent struct {
	ID       string  `json:"id"`
	Filename string  `json:"filename"`
	Hash     string  `json:"hash"`
	Bytes    int64   `json:"bytes"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Files    []struct {
		ID       int    `json:"id"`
		Path     string `json:"path"`
		Bytes    int64  `json:"bytes"`
		Selected int    `json:"selected"`
	} `json:"files"`
	Links []string `json:"links"`
}

type realDebridUnrestrict struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Download string `json:"download"`
}

// do performs an authorized request and decodes a JSON body into out when non-nil.
func (c *RealDebridClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("realdebrid authentication failed: invalid API key")
	case resp.StatusCode == http.StatusNotFound:
		return ErrTorrentNotFound
	case resp.StatusCode >= 400:
		var apiErr realDebridError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("realdebrid %s %s: %s (code %d)", method, path, apiErr.Error, apiErr.ErrorCode)
		}
		return fmt.Errorf("realdebrid %s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w (body: %s)", path, err, string(raw))
	}
	return nil
}

// AddMagnet adds a magnet link and returns the new torrent ID.
func (c *RealDebridClient) AddMagnet(ctx context.Context, magnet string) (*AddMagnetResult, error) {
	trimmed := strings.TrimSpace(magnet)
	if trimmed == "" {
		return nil, fmt.Errorf("magnet URL is required")
	}

	ctx, cancel := context.WithTimeout(ctx, addMagnetTimeout)
	defer cancel()

	var result AddMagnetResult
	if err := c.do(ctx, http.MethodPost, "/torrents/addMagnet", url.Values{"magnet": {trimmed}}, &result); err != nil {
		return nil, fmt.Errorf("add magnet: %w", err)
	}
	if result.ID == "" {
		return nil, fmt.Errorf("add magnet: no torrent id returned")
	}

	log.Printf("[realdebrid] magnet added: id=%s", result.ID)
	return &result, nil
}

// FindTorrentByHash looks for an existing job with the info hash in the account.
func (c *RealDebridClient) FindTorrentByHash(ctx context.Context, infoHash string) (*TorrentInfo, error) {
	hash := strings.ToLower(strings.TrimSpace(infoHash))
	if hash == "" {
		return nil, ErrTorrentNotFound
	}

	listCtx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	var torrents []realDebridTorrent
	if err := c.do(listCtx, http.MethodGet, "/torrents?limit=100", nil, &torrents); err != nil {
		return nil, fmt.Errorf("list torrents: %w", err)
	}

	for _, t := range torrents {
		if strings.EqualFold(t.Hash, hash) {
			return c.GetTorrentInfo(ctx, t.ID)
		}
	}
	return nil, ErrTorrentNotFound
}

// GetTorrentInfo retrieves a torrent by ID.
func (c *RealDebridClient) GetTorrentInfo(ctx context.Context, torrentID string) (*TorrentInfo, error) {
	id := strings.TrimSpace(torrentID)
	if id == "" {
		return nil, fmt.Errorf("torrent ID is required")
	}

	ctx, cancel := context.WithTimeout(ctx, infoTimeout)
	defer cancel()

	var t realDebridTorrent
	if err := c.do(ctx, http.MethodGet, "/torrents/info/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, fmt.Errorf("torrent info: %w", err)
	}

	info := &TorrentInfo{
		ID:       t.ID,
		Filename: t.Filename,
		Hash:     strings.ToLower(t.Hash),
		Bytes:    t.Bytes,
		Status:   t.Status,
		Progress: t.Progress,
		Files:    make([]File, 0, len(t.Files)),
		Links:    append([]string(nil), t.Links...),
	}
	for _, f := range t.Files {
		info.Files = append(info.Files, File{ID: f.ID, Path: f.Path, Bytes: f.Bytes, Selected: f.Selected})
	}
	return info, nil
}

// SelectFiles tells Real-Debrid which files of the torrent to fetch.
func (c *RealDebridClient) SelectFiles(ctx context.Context, torrentID string, fileIDs string) error {
	ctx, cancel := context.WithTimeout(ctx, selectTimeout)
	defer cancel()

	if err := c.do(ctx, http.MethodPost, "/torrents/selectFiles/"+url.PathEscape(torrentID), url.Values{"files": {fileIDs}}, nil); err != nil {
		return fmt.Errorf("select files: %w", err)
	}
	return nil
}

// UnrestrictLink converts a hoster link into a direct download URL.
func (c *RealDebridClient) UnrestrictLink(ctx context.Context, link string) (*UnrestrictResult, error) {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return nil, fmt.Errorf("link is required")
	}

	ctx, cancel := context.WithTimeout(ctx, unrestrictTimeout)
	defer cancel()

	var result realDebridUnrestrict
	if err := c.do(ctx, http.MethodPost, "/unrestrict/link", url.Values{"link": {trimmed}}, &result); err != nil {
		return nil, fmt.Errorf("unrestrict link: %w", err)
	}
	if result.Download == "" {
		return nil, fmt.Errorf("unrestrict link: empty download url")
	}

	log.Printf("[realdebrid] unrestricted link (%s)", result.Filename)
	return &UnrestrictResult{
		ID:          result.ID,
		Filename:    result.Filename,
		Filesize:    result.Filesize,
		DownloadURL: result.Download,
	}, nil
}

// DeleteTorrent removes a torrent from the account.
func (c *RealDebridClient) DeleteTorrent(ctx context.Context, torrentID string) error {
	ctx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()

	if err := c.do(ctx, http.MethodDelete, "/torrents/delete/"+url.PathEscape(torrentID), nil, nil); err != nil {
		return fmt.Errorf("delete torrent: %w", err)
	}
	log.Printf("[realdebrid] torrent %s deleted", torrentID)
	return nil
}
