package urlkey

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/site2md/engine/pkg/types"
)

// ErrInvalidURL marks target addresses that are not absolute HTTP(S)
// URLs. Wrapped errors carry the detail.
var ErrInvalidURL = errors.New("invalid url")

// Normalize validates a target address and converts it to canonical
// form: lowercased scheme and host, default ports removed, duplicate
// slashes and dot segments resolved, query parameters sorted, fragment
// dropped. Two addresses of the same page normalize to the same string,
// so cache keys derived from it are deterministic.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: only HTTP(S) URLs are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, ".")

	// Remove default ports
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}

	if u.Path == "" {
		u.Path = "/"
	}
	u.Path = normalizePath(u.Path)
	u.RawPath = ""

	u.RawQuery = normalizeQuery(u.RawQuery)
	u.Fragment = ""

	return u.String(), nil
}

// Key derives the cache key for a normalized URL and format. The format
// is part of the key because markdown and JSON conversions cache
// independently.
func Key(normalizedURL string, format types.Format) string {
	h := xxhash.Sum64String(normalizedURL)
	return fmt.Sprintf("conv:%016x:%s", h, format)
}

func normalizePath(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}

	parts := strings.Split(path, "/")
	var resolved []string

	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(resolved) > 0 {
				resolved = resolved[:len(resolved)-1]
			}
		default:
			resolved = append(resolved, part)
		}
	}

	result := "/" + strings.Join(resolved, "/")
	if len(result) > 1 && strings.HasSuffix(path, "/") {
		result += "/"
	}
	return result
}

// normalizeQuery sorts query parameters so URLs differing only in
// parameter order are treated identically.
func normalizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		for _, value := range values[key] {
			if value == "" {
				parts = append(parts, url.QueryEscape(key))
			} else {
				parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
			}
		}
	}
	return strings.Join(parts, "&")
}
