package utils

import (
	"net/url"
	"strings"
)

// ObjectKeyFromRef turns what a row stores for a remote file into an object
// key. Rows hold either the bare key or a public URL of the object.
// Examples:
// - products/12/front.jpg
// - gs://<bucket>/products/12/front.jpg
// - https://storage.googleapis.com/<bucket>/products/12/front.jpg
// - https://<bucket>.storage.googleapis.com/products/12/front.jpg
func ObjectKeyFromRef(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	if !strings.Contains(raw, "://") {
		key := strings.TrimPrefix(raw, "/")
		// Basic hardening: reject path traversal.
		if key == "" || strings.Contains(key, "..") {
			return "", false
		}
		return key, true
	}

	if strings.HasPrefix(raw, "gs://") {
		parts := strings.SplitN(strings.TrimPrefix(raw, "gs://"), "/", 2)
		if len(parts) == 2 && parts[1] != "" {
			return parts[1], true
		}
		return "", false
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(parsed.Host)
	p := strings.TrimPrefix(parsed.Path, "/")
	switch {
	case host == "storage.googleapis.com" || host == "storage.cloud.google.com":
		parts := strings.SplitN(p, "/", 2)
		if len(parts) == 2 && parts[1] != "" {
			return parts[1], true
		}
	case strings.HasSuffix(host, ".storage.googleapis.com"):
		// bucket is in host; object key is the full path
		if p != "" {
			return p, true
		}
	}
	return "", false
}
