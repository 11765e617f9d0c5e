package assets

import (
	"net/url"
	"strings"
)

const (
	// UnknownName is used when no name can be derived from a source URL.
	UnknownName = "unknown"
	// StagingName is the reserved archive file inside the store root.
	StagingName = "temp_update.zip"
)

// BundleName derives the store name for an archive URL: the decoded final
// path segment without its .zip suffix. Names that cannot address a bundle
// directory become UnknownName.
func BundleName(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return UnknownName
	}
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return UnknownName
	}
	name := p[strings.LastIndex(p, "/")+1:]
	if len(name) >= len(".zip") && strings.EqualFold(name[len(name)-len(".zip"):], ".zip") {
		name = name[:len(name)-len(".zip")]
	}
	if !validName(name) {
		return UnknownName
	}
	return name
}

// validName reports whether name may address a bundle directory.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." || name == StagingName {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
