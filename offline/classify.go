package offline

import (
	"net/http"
	"net/url"
	"strings"
)

// Class is the caching treatment a request receives.
type Class int

const (
	// ClassNonCacheable covers non-GET and cross-origin requests. The
	// controller never intervenes.
	ClassNonCacheable Class = iota
	// ClassNetworkOnly covers API and data-backend paths, which must always
	// be fetched live.
	ClassNetworkOnly
	// ClassCacheableStatic covers everything else; served stale-while-revalidate.
	ClassCacheableStatic
)

func (c Class) String() string {
	switch c {
	case ClassNonCacheable:
		return "non_cacheable"
	case ClassNetworkOnly:
		return "network_only"
	case ClassCacheableStatic:
		return "cacheable_static"
	default:
		return "unknown"
	}
}

// Rules are the path predicates that mark a same-origin GET as network-only.
type Rules struct {
	// APIPrefix matches paths starting with it, e.g. "/api".
	APIPrefix string
	// DataBackendMarker matches paths containing it anywhere, e.g. "insforge".
	DataBackendMarker string
}

// DefaultRules returns the rules used by the ShareSathi frontend.
func DefaultRules() Rules {
	return Rules{APIPrefix: "/api", DataBackendMarker: "insforge"}
}

// NetworkOnly reports whether path must bypass the cache.
func (r Rules) NetworkOnly(path string) bool {
	if r.APIPrefix != "" && strings.HasPrefix(path, r.APIPrefix) {
		return true
	}
	return r.DataBackendMarker != "" && strings.Contains(path, r.DataBackendMarker)
}

// Classify is a pure function of the request method, its URL, the
// controller's origin and the rules.
func Classify(method string, u *url.URL, origin *url.URL, rules Rules) Class {
	if method != "" && method != http.MethodGet {
		return ClassNonCacheable
	}
	if !sameOrigin(u, origin) {
		return ClassNonCacheable
	}
	if rules.NetworkOnly(u.EscapedPath()) {
		return ClassNetworkOnly
	}
	return ClassCacheableStatic
}

func sameOrigin(u, origin *url.URL) bool {
	if u == nil || origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, origin.Scheme) && strings.EqualFold(hostPort(u), hostPort(origin))
}

// hostPort normalises default ports away so http://a:80 and http://a match.
func hostPort(u *url.URL) string {
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		return u.Hostname()
	}
	return u.Host
}
