package models

// TorrentCandidate is a release returned by a torrent index.
// InfoHash is the lowercase hex identity used for deduplication.
type TorrentCandidate struct {
	Name      string `json:"name"`
	Magnet    string `json:"magnet"`
	InfoHash  string `json:"infoHash"`
	Seeders   int    `json:"seeders"`
	Leechers  int    `json:"leechers"`
	Size      string `json:"size,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
	Source    string `json:"source,omitempty"`
}
