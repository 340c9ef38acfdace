package scene

import (
	"net/url"
	"strings"
)

// ParseHash splits a location hash "#<sceneId>;<saveState>". The leading
// '#' is optional and a hash without ';' is a bare scene id. Only the scene
// id is percent-decoded: '%' is a save-state symbol, so the state is taken
// verbatim.
func ParseHash(hash string) (sceneID, state string) {
	hash = strings.TrimPrefix(hash, "#")
	sceneID, state, _ = strings.Cut(hash, ";")
	if dec, err := url.PathUnescape(sceneID); err == nil {
		sceneID = dec
	}
	return sceneID, state
}

// hashEscaper escapes what ParseHash would otherwise misread in a scene id.
// '/' stays readable.
var hashEscaper = strings.NewReplacer("%", "%25", ";", "%3B", "#", "%23")

// FormatHash is the inverse of ParseHash, without the leading '#'.
func FormatHash(sceneID, state string) string {
	return hashEscaper.Replace(sceneID) + ";" + state
}
