package cache

import (
	"crypto/md5"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateName checks that name can be used as a cache name on every driver.
func ValidateName(name string) error {
	if !validName.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// RequestKey builds the identity of a request: upper-cased method and the
// URL without its fragment.
func RequestKey(method string, u *url.URL) string {
	if method == "" {
		method = http.MethodGet
	}
	cp := *u
	cp.Fragment = ""
	cp.RawFragment = ""
	return strings.ToUpper(method) + " " + cp.String()
}

// KeyForRequest is RequestKey applied to req.
func KeyForRequest(req *http.Request) string {
	return RequestKey(req.Method, req.URL)
}

// fileNameFor maps a request key to a filesystem-safe name. Keys are hashed
// so that distinct URLs never collide after sanitising.
func fileNameFor(key string) string {
	return fmt.Sprintf("%x.json", md5.Sum([]byte(key)))
}
