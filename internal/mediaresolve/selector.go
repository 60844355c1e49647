package mediaresolve

import (
	"path"
	"strings"
)

// Candidate represents a file inside a torrent job that may be played.
type Candidate struct {
	ID    int
	Path  string
	Bytes int64
}

// Label returns the base name of the candidate's path.
func (c Candidate) Label() string {
	return path.Base(strings.ReplaceAll(c.Path, "\\", "/"))
}

var (
	videoExtensions = map[string]struct{}{
		".mp4":  {},
		".mkv":  {},
		".avi":  {},
		".webm": {},
		".m4v":  {},
		".flv":  {},
		".mov":  {},
		".wmv":  {},
	}
	archiveExtensions = map[string]struct{}{
		".rar": {},
		".zip": {},
		".7z":  {},
		".iso": {},
	}
)

func extension(name string) string {
	return strings.ToLower(path.Ext(strings.TrimSpace(name)))
}

// IsVideo reports whether the path has a recognised video container extension.
func IsVideo(name string) bool {
	_, ok := videoExtensions[extension(name)]
	return ok
}

// IsArchive reports whether the path points at an archive the player cannot open.
func IsArchive(name string) bool {
	_, ok := archiveExtensions[extension(name)]
	return ok
}

// SelectPrimary picks the file to stream: the largest video file, or the largest file
// overall when the job contains no video. Ties keep the earlier entry.
func SelectPrimary(files []Candidate) (Candidate, bool) {
	if len(files) == 0 {
		return Candidate{}, false
	}

	best, found := largest(files, IsVideo)
	if found {
		return best, true
	}
	return largest(files, func(string) bool { return true })
}

func largest(files []Candidate, keep func(string) bool) (Candidate, bool) {
	var (
		best  Candidate
		found bool
	)
	for _, f := range files {
		if !keep(f.Path) {
			continue
		}
		if !found || f.Bytes > best.Bytes {
			best = f
			found = true
		}
	}
	return best, found
}
