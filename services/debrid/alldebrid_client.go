package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// AllDebridClient handles API interactions with AllDebrid service.
type AllDebridClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	agent      string
}

var _ Provider = (*AllDebridClient)(nil)

// NewAllDebridClient creates a new AllDebrid API client.
func NewAllDebridClient(apiKey string) *AllDebridClient {
	return &AllDebridClient{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.alldebrid.com/v4",
		agent:      "animetoday",
	}
}

// WithBaseURL points the client at another endpoint (used by tests).
func (c *AllDebridClient) WithBaseURL(baseURL string) *AllDebridClient {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *AllDebridClient) Name() string {
	return "alldebrid"
}

func init() {
	RegisterProvider("alldebrid", func(apiKey string) Provider {
		return NewAllDebridClient(apiKey)
	})
}

// allDebridResponse is the generic API envelope.
type allDebridResponse[T any] struct {
	Status string `json:"status"` // "success" or "error"
	Data   T      `json:"data,omitempty"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type allDebridMagnetUploadData struct {
	Magnets []struct {
		ID    int    `json:"id"`
		Hash  string `json:"hash"`
		Name  string `json:"name"`
		Ready bool   `json:"ready"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"magnets"`
}

type allDebridStatus struct {
	ID         int                 `json:"id"`
	Filename   string              `json:"filename"`
	Size       int64               `json:"size"`
	Hash       string              `json:"hash"`
	StatusCode int                 `json:"statusCode"`
	Downloaded int64               `json:"downloaded"`
	Files      []allDebridFileNode `json:"files,omitempty"`
}

// allDebridFileNode is a file or directory in the v4.1 nested tree.
type allDebridFileNode struct {
	N string              `json:"n"`           // name
	S int64               `json:"s,omitempty"` // size (files)
	L string              `json:"l,omitempty"` // link (files)
	E []allDebridFileNode `json:"e,omitempty"` // entries (directories)
}

// allDebridStatusData holds either one magnet object or an array of them.
type allDebridStatusData struct {
	Magnets json.RawMessage `json:"magnets"`
}

type allDebridUnlock struct {
	Link     string `json:"link"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	ID       string `json:"id,omitempty"`
	Delayed  int    `json:"delayed,omitempty"`
}

// AllDebrid magnet status codes.
const (
	allDebridStatusInQueue             = 0
	allDebridStatusDownloading         = 1
	allDebridStatusCompressingMoving   = 2
	allDebridStatusUploading           = 3
	allDebridStatusReady               = 4
	allDebridStatusUploadFail          = 5
	allDebridStatusInternalErrorUnpack = 6
	allDebridStatusNotDownloaded20Min  = 7
	allDebridStatusFileTooBig          = 8
	allDebridStatusInternalError       = 9
	allDebridStatusDownloadTook72h     = 10
	allDebridStatusDeletedOnHoster     = 11
)

// call performs a request against the API and unwraps the envelope into data.
func call[T any](ctx context.Context, c *AllDebridClient, method, endpoint string, form url.Values, data *T) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}

	var body io.Reader
	if form != nil {
		form.Set("agent", c.agent)
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("alldebrid authentication failed: invalid API key")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	var envelope allDebridResponse[T]
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w (body: %s)", err, string(raw))
	}
	if envelope.Status != "success" {
		msg := "unknown error"
		if envelope.Error != nil {
			msg = envelope.Error.Message
			if strings.Contains(strings.ToUpper(envelope.Error.Code), "NOT_FOUND") {
				return ErrTorrentNotFound
			}
		}
		return fmt.Errorf("alldebrid: %s", msg)
	}
	if data != nil {
		*data = envelope.Data
	}
	return nil
}

// AddMagnet uploads a magnet and returns the AllDebrid magnet ID.
func (c *AllDebridClient) AddMagnet(ctx context.Context, magnet string) (*AddMagnetResult, error) {
	trimmed := strings.TrimSpace(magnet)
	if trimmed == "" {
		return nil, fmt.Errorf("magnet URL is required")
	}

	ctx, cancel := context.WithTimeout(ctx, addMagnetTimeout)
	defer cancel()

	var data allDebridMagnetUploadData
	if err := call(ctx, c, http.MethodPost, c.baseURL+"/magnet/upload", url.Values{"magnets[]": {trimmed}}, &data); err != nil {
		return nil, fmt.Errorf("add magnet: %w", err)
	}
	if len(data.Magnets) == 0 {
		return nil, fmt.Errorf("add magnet: no magnet data returned")
	}
	m := data.Magnets[0]
	if m.Error != nil {
		return nil, fmt.Errorf("add magnet: %s", m.Error.Message)
	}

	log.Printf("[alldebrid] magnet added: id=%d hash=%s ready=%v", m.ID, m.Hash, m.Ready)
	return &AddMagnetResult{ID: strconv.Itoa(m.ID), URI: trimmed}, nil
}

// statusURL returns the v4.1 status endpoint, which carries the nested file tree.
func (c *AllDebridClient) statusURL() string {
	return strings.Replace(c.baseURL, "/v4", "/v4.1", 1) + "/magnet/status"
}

func (c *AllDebridClient) fetchStatuses(ctx context.Context, form url.Values) ([]allDebridStatus, error) {
	var data allDebridStatusData
	if err := call(ctx, c, http.MethodPost, c.statusURL(), form, &data); err != nil {
		return nil, err
	}
	if len(data.Magnets) == 0 {
		return nil, ErrTorrentNotFound
	}
	if data.Magnets[0] == '{' {
		var single allDebridStatus
		if err := json.Unmarshal(data.Magnets, &single); err != nil {
			return nil, fmt.Errorf("decode single magnet: %w", err)
		}
		return []allDebridStatus{single}, nil
	}
	var many []allDebridStatus
	if err := json.Unmarshal(data.Magnets, &many); err != nil {
		return nil, fmt.Errorf("decode magnets array: %w", err)
	}
	return many, nil
}

// FindTorrentByHash scans the account's magnets for the info hash.
func (c *AllDebridClient) FindTorrentByHash(ctx context.Context, infoHash string) (*TorrentInfo, error) {
	hash := strings.ToLower(strings.TrimSpace(infoHash))
	if hash == "" {
		return nil, ErrTorrentNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	statuses, err := c.fetchStatuses(ctx, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("list magnets: %w", err)
	}
	for _, s := range statuses {
		if strings.EqualFold(s.Hash, hash) {
			return c.toTorrentInfo(s), nil
		}
	}
	return nil, ErrTorrentNotFound
}

// GetTorrentInfo retrieves a magnet by ID.
func (c *AllDebridClient) GetTorrentInfo(ctx context.Context, torrentID string) (*TorrentInfo, error) {
	id := strings.TrimSpace(torrentID)
	if id == "" {
		return nil, fmt.Errorf("torrent ID is required")
	}

	ctx, cancel := context.WithTimeout(ctx, infoTimeout)
	defer cancel()

	statuses, err := c.fetchStatuses(ctx, url.Values{"id": {id}})
	if err != nil {
		return nil, fmt.Errorf("torrent info: %w", err)
	}
	return c.toTorrentInfo(statuses[0]), nil
}

func (c *AllDebridClient) toTorrentInfo(status allDebridStatus) *TorrentInfo {
	info := &TorrentInfo{
		ID:       strconv.Itoa(status.ID),
		Filename: status.Filename,
		Hash:     strings.ToLower(status.Hash),
		Bytes:    status.Size,
		Status:   mapAllDebridStatus(status.StatusCode),
		Files:    make([]File, 0),
		Links:    make([]string, 0),
	}
	if status.Size > 0 {
		info.Progress = float64(status.Downloaded) * 100 / float64(status.Size)
	}
	flattenFileTree(status.Files, "", info)
	return info
}

// flattenFileTree walks the nested tree into parallel Files and Links slices.
func flattenFileTree(nodes []allDebridFileNode, basePath string, info *TorrentInfo) {
	for _, node := range nodes {
		path := node.N
		if basePath != "" {
			path = basePath + "/" + node.N
		}
		if len(node.E) > 0 {
			flattenFileTree(node.E, path, info)
			continue
		}
		if node.L == "" {
			continue
		}
		info.Files = append(info.Files, File{
			ID:       len(info.Files) + 1,
			Path:     path,
			Bytes:    node.S,
			Selected: 1,
		})
		info.Links = append(info.Links, node.L)
	}
}

// mapAllDebridStatus converts AllDebrid codes to the shared status vocabulary.
func mapAllDebridStatus(code int) string {
	switch code {
	case allDebridStatusReady:
		return "downloaded"
	case allDebridStatusInQueue:
		return "queued"
	case allDebridStatusDownloading:
		return "downloading"
	case allDebridStatusCompressingMoving:
		return "compressing"
	case allDebridStatusUploading:
		return "uploading"
	case allDebridStatusUploadFail, allDebridStatusInternalErrorUnpack,
		allDebridStatusNotDownloaded20Min, allDebridStatusFileTooBig,
		allDebridStatusInternalError, allDebridStatusDownloadTook72h:
		return "error"
	case allDebridStatusDeletedOnHoster:
		return "dead"
	default:
		return "unknown"
	}
}

// SelectFiles is a no-op: AllDebrid fetches every file of a magnet.
func (c *AllDebridClient) SelectFiles(ctx context.Context, torrentID string, fileIDs string) error {
	return nil
}

// DeleteTorrent removes a magnet from the account.
func (c *AllDebridClient) DeleteTorrent(ctx context.Context, torrentID string) error {
	ctx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()

	var ignored json.RawMessage
	if err := call(ctx, c, http.MethodPost, c.baseURL+"/magnet/delete", url.Values{"id": {strings.TrimSpace(torrentID)}}, &ignored); err != nil {
		return fmt.Errorf("delete torrent: %w", err)
	}
	log.Printf("[alldebrid] magnet %s deleted", torrentID)
	return nil
}

// UnrestrictLink converts an AllDebrid link into a direct download URL.
func (c *AllDebridClient) UnrestrictLink(ctx context.Context, link string) (*UnrestrictResult, error) {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return nil, fmt.Errorf("link is required")
	}

	ctx, cancel := context.WithTimeout(ctx, unrestrictTimeout)
	defer cancel()

	var data allDebridUnlock
	if err := call(ctx, c, http.MethodPost, c.baseURL+"/link/unlock", url.Values{"link": {trimmed}}, &data); err != nil {
		return nil, fmt.Errorf("unrestrict link: %w", err)
	}
	if data.Delayed > 0 {
		return nil, fmt.Errorf("link is being processed, try again in %d seconds", data.Delayed)
	}

	return &UnrestrictResult{
		ID:          data.ID,
		Filename:    data.Filename,
		Filesize:    data.Filesize,
		DownloadURL: data.Link,
	}, nil
}
