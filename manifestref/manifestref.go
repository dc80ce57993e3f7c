// Package manifestref reads just enough of a manifest blob to enumerate the
// digests it references. It does not validate, unmarshal fully, or register
// pluggable schemas the way manifest/schema1 and manifest/schema2 do — this
// package only needs enough of a manifest to enumerate references, and a GC
// tool has no business re-verifying manifest correctness.
package manifestref

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/distribution/registry-gc/internal/dcontext"
	"github.com/opencontainers/go-digest"
)

// Media type constants mirrored from manifest/schema1 and manifest/schema2,
// documenting the schemaVersion values this parser distinguishes between.
// The parser itself only inspects the schemaVersion field.
const (
	MediaTypeSchema1 = "application/vnd.docker.distribution.manifest.v1+prettyjws"
	MediaTypeSchema2 = "application/vnd.docker.distribution.manifest.v2+json"
)

// FileReader is the minimal capability this package needs from the
// filesystem adapter: read a blob's bytes by path.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

type fsLayer struct {
	BlobSum string `json:"blobSum"`
}

type descriptor struct {
	Digest string `json:"digest"`
}

type manifestDoc struct {
	SchemaVersion int          `json:"schemaVersion"`
	FSLayers      []fsLayer    `json:"fsLayers"`
	Layers        []descriptor `json:"layers"`
	Config        *descriptor  `json:"config"`
}

// References returns the set of digests referenced by the manifest blob at
// path: for schema 1, the fsLayers blobSums; for schema 2 (and later
// schemas sharing its layers/config shape), the layer digests plus the
// config digest when present.
//
// Any parse or IO failure yields an empty set and is logged at error level.
// Callers must treat an empty result as
// a soft failure, never as proof that the manifest has no references — the
// caller's policy degrades to the conservative, over-retaining side when
// this happens, never to over-deletion.
func References(ctx context.Context, fr FileReader, path string) map[digest.Digest]struct{} {
	result := make(map[digest.Digest]struct{})

	raw, err := fr.ReadFile(path)
	if err != nil {
		dcontext.GetLogger(ctx).Errorf("manifestref: failed to read blob %s: %v", path, err)
		return result
	}

	var doc manifestDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		dcontext.GetLogger(ctx).Errorf("manifestref: failed to parse blob %s: %v", path, err)
		return result
	}

	switch doc.SchemaVersion {
	case 1:
		for _, l := range doc.FSLayers {
			if d, ok := parseDigest(l.BlobSum); ok {
				result[d] = struct{}{}
			}
		}
	default:
		for _, l := range doc.Layers {
			if d, ok := parseDigest(l.Digest); ok {
				result[d] = struct{}{}
			}
		}
		if doc.Config != nil {
			if d, ok := parseDigest(doc.Config.Digest); ok {
				result[d] = struct{}{}
			}
		}
	}

	return result
}

// parseDigest validates a full "sha256:<hex>" digest string as it appears
// in a manifest's JSON. The digest's Hex() method recovers the bare hex
// form used to address blob paths (ROOT/blobs/sha256/<dd>/<digest>) and
// layer/revision link directories.
func parseDigest(full string) (digest.Digest, bool) {
	if !strings.Contains(full, ":") {
		return "", false
	}
	d := digest.Digest(full)
	if err := d.Validate(); err != nil {
		return "", false
	}
	return d, true
}
