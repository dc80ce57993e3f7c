// Package rootconfig resolves the single environment-level setting this
// tool needs: the registry v2 data directory. It deliberately does not
// parse the full YAML registry configuration format that
// configuration.Configuration handles — a GC tool only ever needs ROOT,
// never storage-driver parameters, auth, or notification endpoints.
package rootconfig

import "os"

// DefaultDataDir is used when REGISTRY_DATA_DIR is unset.
const DefaultDataDir = "/opt/registry_data/docker/registry/v2"

// DataDirEnv is the environment variable naming the registry v2 root (the
// directory containing repositories/ and blobs/).
const DataDirEnv = "REGISTRY_DATA_DIR"

// DataDir returns the configured registry root, falling back to
// DefaultDataDir when REGISTRY_DATA_DIR is unset or empty.
func DataDir() string {
	if v := os.Getenv(DataDirEnv); v != "" {
		return v
	}
	return DefaultDataDir
}
