// Package safeurl validates user-supplied URLs and strips credentials from
// provider URLs before they reach logs or error messages.
package safeurl

import (
	"net/url"
	"strings"
)

// Mask replaces redacted credentials.
const Mask = "xxxxx"

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Used to reject file://, ftp://, and other schemes that could lead to SSRF or local file access.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := strings.ToLower(parsed.Scheme)
	return (s == "http" || s == "https") && parsed.Host != ""
}

// streamSegments are the path prefixes of Xtream stream URLs, which carry
// the account as /{kind}/{user}/{pass}/{id}.{ext}.
var streamSegments = map[string]bool{"movie": true, "series": true, "live": true}

// Redact hides the password (and username) in u: userinfo, the
// username/password query parameters, and the account segments of stream
// URLs. Unparseable input is returned as Mask.
func Redact(u string) string {
	if u == "" {
		return ""
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return Mask
	}
	if parsed.User != nil {
		parsed.User = url.User(Mask)
	}
	if q := parsed.Query(); q.Has("password") || q.Has("username") {
		for _, k := range []string{"username", "password"} {
			if q.Has(k) {
				q.Set(k, Mask)
			}
		}
		parsed.RawQuery = q.Encode()
	}
	segs := strings.Split(parsed.Path, "/")
	for i := 0; i+3 < len(segs); i++ {
		if streamSegments[segs[i]] {
			segs[i+1], segs[i+2] = Mask, Mask
			parsed.Path = strings.Join(segs, "/")
			parsed.RawPath = ""
			break
		}
	}
	return parsed.String()
}
