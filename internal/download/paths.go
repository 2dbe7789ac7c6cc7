package download

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const (
	partialExt = ".partial"
	defaultExt = ".mp3"

	// leaves room for the extension within a 255-byte file name
	maxStemLen = 200
)

// knownExts are media extensions kept from the remote URL.
var knownExts = map[string]bool{
	".mp3": true, ".m4a": true, ".aac": true, ".ogg": true, ".opus": true,
	".flac": true, ".wav": true, ".mp4": true,
}

// FinalPath returns where a completed download lives. Stable: the same track
// and media URL always map to the same path.
func FinalPath(dir, trackID, mediaURL string) string {
	return filepath.Join(dir, sanitizeID(trackID)+mediaExt(mediaURL))
}

// PartialPath returns the file written while the transfer runs.
// There is exactly one per track.
func PartialPath(dir, trackID string) string {
	return filepath.Join(dir, sanitizeID(trackID)+partialExt)
}

func mediaExt(mediaURL string) string {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return defaultExt
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if knownExts[ext] {
		return ext
	}
	return defaultExt
}

// sanitizeID maps a track ID to a file name stem, one-to-one. Lowercase
// letters, digits and '-' pass through; every other byte, a leading '.' and
// uppercase letters (case-insensitive filesystems) become '_' plus two hex
// digits. Stems too long for a file name are replaced by "_h" and a SHA-256
// of the ID, which the escaping can never produce.
func sanitizeID(id string) string {
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		case c == '.' && i > 0:
			b.WriteByte(c)
		default:
			b.WriteByte('_')
			b.WriteString(hex.EncodeToString([]byte{c}))
		}
	}
	s := b.String()
	if s == "" {
		return "_"
	}
	if len(s) > maxStemLen {
		sum := sha256.Sum256([]byte(id))
		return "_h" + hex.EncodeToString(sum[:])
	}
	return s
}

// fileURI turns a local path into a file:// URI for players.
func fileURI(p string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}
