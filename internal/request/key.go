package request

import (
	"net/url"
	"sort"
	"strings"
)

// CallKey identifies a logical request. Two calls with the same key issued
// close together are duplicates.
type CallKey string

// NewCallKey derives a key from the HTTP method, the URL without its query,
// and the union of the URL's query and params with keys and values sorted.
// Parameter order therefore never produces distinct keys.
func NewCallKey(method, rawURL string, params url.Values) CallKey {
	merged := url.Values{}
	base := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		for k, vs := range u.Query() {
			merged[k] = append(merged[k], vs...)
		}
		u.RawQuery = ""
		u.Fragment = ""
		base = u.String()
	}
	for k, vs := range params {
		merged[k] = append(merged[k], vs...)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.ToUpper(strings.TrimSpace(method)))
	b.WriteByte(' ')
	b.WriteString(base)
	for i, k := range keys {
		vs := append([]string(nil), merged[k]...)
		sort.Strings(vs)
		for j, v := range vs {
			if i == 0 && j == 0 {
				b.WriteByte('?')
			} else {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return CallKey(b.String())
}
