// Package linkref parses the registry's "link" files: small text files
// whose entire content is a digest reference of the form
// "sha256:<64-hex>". Link files are how a repository ties its layers,
// manifest revisions, and tags back to content in the shared blob store.
package linkref

import (
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Parse extracts the digest recorded in the body of a link file. Per the
// on-disk format, no trailing whitespace is required: any bytes after the
// first colon up to the first non-hex-digit character form the digest, so a
// trailing newline or other noise is tolerated.
func Parse(content []byte) (digest.Digest, error) {
	s := string(content)

	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return "", fmt.Errorf("linkref: no algorithm separator in %q", truncate(s))
	}
	algorithm := s[:colon]
	rest := s[colon+1:]

	end := 0
	for end < len(rest) && isHex(rest[end]) {
		end++
	}
	hex := rest[:end]

	d := digest.Digest(algorithm + ":" + hex)
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("linkref: invalid digest %q: %w", truncate(s), err)
	}
	return d, nil
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func truncate(s string) string {
	const max = 64
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
