package fetcher

import (
	"net/url"
	"path"
	"strings"

	"github.com/xkilldash9x/pagesource/api/schemas"
)

// Denylist decides which subresource requests a page may not make. A request
// is blocked when its URL path ends in a listed extension or when the engine
// reports a listed resource type.
type Denylist struct {
	extensions    map[string]struct{}
	resourceTypes map[string]struct{}
}

// NewDenylist builds a denylist. Extensions are matched without their dot and
// case-insensitively.
func NewDenylist(extensions, resourceTypes []string) *Denylist {
	d := &Denylist{
		extensions:    make(map[string]struct{}, len(extensions)),
		resourceTypes: make(map[string]struct{}, len(resourceTypes)),
	}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			d.extensions[ext] = struct{}{}
		}
	}
	for _, rt := range resourceTypes {
		rt = strings.ToLower(strings.TrimSpace(rt))
		if rt != "" {
			d.resourceTypes[rt] = struct{}{}
		}
	}
	return d
}

// Blocks reports whether req must be aborted.
func (d *Denylist) Blocks(req schemas.RequestInfo) bool {
	if _, ok := d.resourceTypes[strings.ToLower(req.ResourceType)]; ok {
		return true
	}
	ext := extension(req.URL)
	if ext == "" {
		return false
	}
	_, ok := d.extensions[ext]
	return ok
}

// extension returns the lower-cased extension of the URL path, ignoring the
// query string and fragment.
func extension(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(raw, "?#"); i >= 0 {
		p = raw[:i]
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}
