package cache

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

const (
	// KeyPrefix starts every cache key.
	KeyPrefix = "hq"

	DefaultVersion      = "v1"
	DefaultNamespace    = "default"
	DefaultTableSegment = "query"

	// MaxTableSegment bounds the human-readable table part of a key.
	MaxTableSegment = 48
)

// KeyInput holds everything a cache key is derived from.
type KeyInput struct {
	Namespace  string
	SQL        string
	Parameters []any
	Settings   map[string]any
	Version    string
	TableName  string
}

// ComputeKey derives a deterministic key of the form
//
//	hq:<version>:<namespace>:<table>:<16 hex digits>
//
// The digest is xxh3-64 over the canonical JSON of sql, parameters and
// settings. Parameter order is significant; settings key order is not.
// The table segment only aids inspection and carries no uniqueness.
func ComputeKey(in KeyInput) (string, error) {
	params := in.Parameters
	if params == nil {
		params = []any{}
	}
	settings := in.Settings
	if settings == nil {
		settings = map[string]any{}
	}

	payload, err := MarshalCanonical(map[string]any{
		"sql":        in.SQL,
		"parameters": params,
		"settings":   settings,
	})
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}

	version := in.Version
	if version == "" {
		version = DefaultVersion
	}
	namespace := in.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return fmt.Sprintf("%s:%s:%s:%s:%016x",
		KeyPrefix, version, namespace, TableSegment(in.TableName), xxh3.Hash(payload)), nil
}

// TableSegment strips characters outside [A-Za-z0-9_-] and truncates the
// result. An empty result becomes DefaultTableSegment.
func TableSegment(table string) string {
	var sb strings.Builder
	for _, r := range table {
		if r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			if sb.Len() == MaxTableSegment {
				break
			}
		}
	}
	if sb.Len() == 0 {
		return DefaultTableSegment
	}
	return sb.String()
}
