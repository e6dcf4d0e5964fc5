package mcp

import (
	"os"
	"strings"
)

// ExpandEnv replaces $VAR and ${VAR} with environment values. Unset
// variables are left as written.
func ExpandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "${" + name + "}"
	})
}

// NormalizeBase trims whitespace and trailing slashes.
func NormalizeBase(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// EnsureSSE makes u end in /sse.
func EnsureSSE(u string) string {
	base := NormalizeBase(u)
	if base == "" || strings.HasSuffix(base, "/sse") {
		return base
	}
	return base + "/sse"
}

// TavilyURL expands raw and, for Tavily endpoints, carries the key in the
// tavilyApiKey query parameter: appended when missing, filled when empty.
func TavilyURL(raw, key string) string {
	u := NormalizeBase(ExpandEnv(raw))
	key = strings.TrimSpace(key)
	if u == "" || key == "" || !strings.Contains(u, "tavily") {
		return u
	}
	switch {
	case !strings.Contains(u, "tavilyApiKey="):
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		return u + sep + "tavilyApiKey=" + key
	case strings.HasSuffix(u, "tavilyApiKey="):
		return u + key
	}
	return u
}

// FirecrawlURL expands raw and points it at the SSE endpoint.
func FirecrawlURL(raw string) string {
	return EnsureSSE(ExpandEnv(strings.TrimSpace(raw)))
}

// BearerHeaders returns an Authorization header when key is set.
func BearerHeaders(key string) map[string]string {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + key}
}
