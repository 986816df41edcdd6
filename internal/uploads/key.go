package uploads

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
)

const fallbackName = "file"

// SanitizeName turns a client file name into the ASCII-safe tail of an object
// key. Whitespace runs become a single dash, characters outside
// [A-Za-z0-9-._] are dropped and the result is capped at maxLen runes with
// the extension kept.
func SanitizeName(name string, maxLen int) string {
	// Only the last path element of a name like "C:\docs\a.pdf" matters.
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return fallbackName
	}

	var b strings.Builder
	inSpace := false
	for _, r := range name {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('-')
			}
			inSpace = true
			continue
		}
		inSpace = false
		if isSafe(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, ".-") == "" {
		return fallbackName
	}
	if maxLen > 0 && len(out) > maxLen {
		ext := path.Ext(out)
		if len(ext) >= maxLen {
			ext = ""
		}
		out = out[:maxLen-len(ext)] + ext
	}
	return out
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '.', r == '_':
		return true
	}
	return false
}

// NormalizeFolder cleans a caller-supplied folder. Empty, "." and ".."
// segments are dropped; an empty result falls back to def.
func NormalizeFolder(folder, def string) string {
	var segments []string
	for _, seg := range strings.Split(strings.ReplaceAll(folder, `\`, "/"), "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		clean := SanitizeName(seg, 0)
		if clean == fallbackName && seg != fallbackName {
			// Segments made only of unsafe characters are dropped.
			continue
		}
		segments = append(segments, clean)
	}
	if len(segments) == 0 {
		if def == "" {
			return "uploads"
		}
		return NormalizeFolder(def, "")
	}
	return strings.Join(segments, "/")
}

// BuildKey returns the object key and its last segment. The millisecond
// timestamp plus a random id keep keys unique across concurrent presigns of
// the same name.
func BuildKey(folder, storedName string, now time.Time, id string) (key, name string) {
	name = fmt.Sprintf("%d-%s-%s", now.UnixMilli(), id, storedName)
	return folder + "/" + name, name
}

// StoredName returns the last segment of key.
func StoredName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
