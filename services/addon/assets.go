package addon

import (
	"log"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/david325345/animetoday-docker/config"
)

const staticPrefix = "/static/"

// UsablePlaceholders replaces /static/ placeholder videos that are missing from staticDir
// with the hosted defaults, so a resolve redirect never lands on a 404.
func UsablePlaceholders(fsys afero.Fs, staticDir string, p config.PlaceholderSettings) config.PlaceholderSettings {
	d := config.DefaultSettings().Placeholders
	p.Downloading = usableAsset(fsys, staticDir, p.Downloading, d.Downloading)
	p.Failed = usableAsset(fsys, staticDir, p.Failed, d.Failed)
	p.Unavailable = usableAsset(fsys, staticDir, p.Unavailable, d.Unavailable)
	return p
}

func usableAsset(fsys afero.Fs, staticDir, value, fallback string) string {
	if !strings.HasPrefix(value, staticPrefix) {
		return value
	}
	if staticDir != "" {
		name := filepath.Join(staticDir, filepath.FromSlash(path.Clean(strings.TrimPrefix(value, staticPrefix))))
		if info, err := fsys.Stat(name); err == nil && !info.IsDir() {
			return value
		}
	}
	log.Printf("[addon] placeholder %s not found in %q, using %s", value, staticDir, fallback)
	return fallback
}
