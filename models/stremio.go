package models

// IDPrefix namespaces every catalog, meta and stream id served by the addon.
const IDPrefix = "nyaa:"

// Manifest describes the addon to a Stremio client.
type Manifest struct {
	ID            string        `json:"id"`
	Version       string        `json:"version"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Logo          string        `json:"logo,omitempty"`
	Resources     []string      `json:"resources"`
	Types         []string      `json:"types"`
	Catalogs      []CatalogDef  `json:"catalogs"`
	IDPrefixes    []string      `json:"idPrefixes"`
	BehaviorHints ManifestHints `json:"behaviorHints"`
}

type CatalogDef struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Extra []CatalogExtra `json:"extra,omitempty"`
}

type CatalogExtra struct {
	Name       string `json:"name"`
	IsRequired bool   `json:"isRequired"`
}

type ManifestHints struct {
	Configurable          bool `json:"configurable"`
	ConfigurationRequired bool `json:"configurationRequired"`
}

// MetaPreview is a catalog item.
type MetaPreview struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Poster      string   `json:"poster"`
	Background  string   `json:"background,omitempty"`
	Logo        string   `json:"logo,omitempty"`
	Description string   `json:"description,omitempty"`
	Genres      []string `json:"genres"`
	ReleaseInfo string   `json:"releaseInfo,omitempty"`
	IMDBRating  string   `json:"imdbRating,omitempty"`
}

// Meta is the detail view of one airing episode.
type Meta struct {
	MetaPreview
	Videos []Video `json:"videos"`
}

type Video struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
	Released  string `json:"released"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

type StreamBehaviorHints struct {
	NotWebReady bool   `json:"notWebReady,omitempty"`
	BingeGroup  string `json:"bingeGroup,omitempty"`
}

// Stream is one playable (or placeholder) entry of a stream listing.
type Stream struct {
	Name          string               `json:"name"`
	Title         string               `json:"title"`
	URL           string               `json:"url"`
	BehaviorHints *StreamBehaviorHints `json:"behaviorHints,omitempty"`
}

type CatalogResponse struct {
	Metas []MetaPreview `json:"metas"`
}

// MetaResponse carries a nil Meta when the id is unknown.
type MetaResponse struct {
	Meta *Meta `json:"meta"`
}

type StreamResponse struct {
	Streams []Stream `json:"streams"`
}
