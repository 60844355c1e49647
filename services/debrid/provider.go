package debrid

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotConfigured is returned when a provider has no API key.
	ErrNotConfigured = errors.New("debrid provider not configured")
	// ErrTorrentNotFound is returned when the remote service has no job for the id or hash.
	ErrTorrentNotFound = errors.New("torrent not found")
)

// Per-call timeouts applied on top of the caller context.
const (
	addMagnetTimeout  = 15 * time.Second
	infoTimeout       = 10 * time.Second
	selectTimeout     = 10 * time.Second
	unrestrictTimeout = 10 * time.Second
	deleteTimeout     = 5 * time.Second
	listTimeout       = 10 * time.Second
)

// File is one entry of a remote torrent job.
type File struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

// TorrentInfo is the provider-agnostic view of a remote job.
type TorrentInfo struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Hash     string   `json:"hash"`
	Bytes    int64    `json:"bytes"`
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Files    []File   `json:"files"`
	Links    []string `json:"links"`
}

// AddMagnetResult identifies a freshly created remote job.
type AddMagnetResult struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// UnrestrictResult is a hoster link converted into a direct download URL.
type UnrestrictResult struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Filesize    int64  `json:"filesize"`
	DownloadURL string `json:"download"`
}

// Provider is a remote debrid caching service.
type Provider interface {
	Name() string
	AddMagnet(ctx context.Context, magnet string) (*AddMagnetResult, error)
	// FindTorrentByHash returns an existing job for the info hash or ErrTorrentNotFound.
	FindTorrentByHash(ctx context.Context, infoHash string) (*TorrentInfo, error)
	GetTorrentInfo(ctx context.Context, torrentID string) (*TorrentInfo, error)
	SelectFiles(ctx context.Context, torrentID string, fileIDs string) error
	UnrestrictLink(ctx context.Context, link string) (*UnrestrictResult, error)
	DeleteTorrent(ctx context.Context, torrentID string) error
}

// ProviderFactory builds a provider for an API key.
type ProviderFactory func(apiKey string) Provider

var (
	registryMu sync.RWMutex
	registry   = map[string]ProviderFactory{}
)

// RegisterProvider makes a provider constructor available by name.
func RegisterProvider(name string, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(strings.TrimSpace(name))] = factory
}

// GetProvider constructs the named provider. ok is false for unknown names.
func GetProvider(name, apiKey string) (Provider, bool) {
	registryMu.RLock()
	factory, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	registryMu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(apiKey), true
}

// DisplayName returns the user-facing label of a provider name.
func DisplayName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "realdebrid", "real-debrid", "rd":
		return "RealDebrid"
	case "alldebrid", "all-debrid", "ad":
		return "AllDebrid"
	case "":
		return "Debrid"
	}
	return name
}

// StatusCategory groups remote status strings into what the engine acts on.
type StatusCategory int

const (
	StatusUnknown StatusCategory = iota
	StatusWaitingSelection
	StatusFetching
	StatusReady
	StatusFailed
)

// Categorize maps a provider status string onto a StatusCategory.
func Categorize(status string) StatusCategory {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "waiting_files_selection":
		return StatusWaitingSelection
	case "downloading", "queued", "compressing", "uploading", "magnet_conversion":
		return StatusFetching
	case "downloaded":
		return StatusReady
	case "dead", "error", "virus", "magnet_error":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

func (c StatusCategory) String() string {
	switch c {
	case StatusWaitingSelection:
		return "waiting_selection"
	case StatusFetching:
		return "fetching"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
