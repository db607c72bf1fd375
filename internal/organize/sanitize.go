package organize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// maxComponentLen keeps path components comfortably under common filesystem
// limits (255 bytes) with room for the " (n)" suffix and extension.
const maxComponentLen = 150

// componentReplacer strips or replaces characters illegal on common
// filesystems. Separators and colons become dashes; the rest are dropped.
var componentReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
	"\x00", "",
)

// SanitizeComponent makes name safe to use as a single path component.
// Overlong names are truncated with a short hash of the original appended so
// distinct titles stay distinct. Empty results fall back to "unknown".
func SanitizeComponent(name string) string {
	cleaned := componentReplacer.Replace(strings.TrimSpace(name))
	cleaned = strings.Trim(cleaned, " .")
	if cleaned == "" {
		return "unknown"
	}
	if len(cleaned) <= maxComponentLen {
		return cleaned
	}
	sum := sha256.Sum256([]byte(cleaned))
	suffix := "-" + hex.EncodeToString(sum[:4])
	cut := maxComponentLen - len(suffix)
	// Avoid splitting a multi-byte rune at the cut point.
	for cut > 0 && cleaned[cut]&0xC0 == 0x80 {
		cut--
	}
	return strings.TrimRight(cleaned[:cut], " .") + suffix
}
