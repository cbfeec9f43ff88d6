package blob

import (
	"path"
	"strings"

	"github.com/oklog/ulid/v2"
)

// CaseFileKey builds the object key for a checklist file. The ULID prefix keeps
// keys unique and time ordered so duplicate file names never collide.
func CaseFileKey(caseID, itemID, fileName string) string {
	return path.Join("cases", caseID, itemID, ulid.Make().String()+"-"+SanitizeName(fileName))
}

// ClaimFileKey builds the object key for a claim document attachment.
func ClaimFileKey(documentID, fileName string) string {
	return path.Join("claims", documentID, ulid.Make().String()+"-"+SanitizeName(fileName))
}

// SanitizeName reduces a user supplied file name to a safe object key segment.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	if len(out) > 120 {
		out = out[len(out)-120:]
	}
	return out
}
