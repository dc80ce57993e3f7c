// Package refindex computes on-demand reference lookups over a registry
// store: which tags a repository has, what a tag currently points at, every
// link file under a subtree, every repository in the store, and the union
// of links held anywhere (optionally excluding one repository). Every
// lookup is a fresh snapshot read from disk; nothing here caches across
// invocations.
package refindex

import (
	"context"
	"path/filepath"

	"github.com/distribution/registry-gc/internal/linkref"
	"github.com/distribution/registry-gc/manifestref"
	"github.com/distribution/registry-gc/storefs"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
)

// FS is the subset of the filesystem adapter the index needs.
type FS interface {
	ListDir(path string) ([]string, error)
	IsDir(path string) bool
	ReadFile(path string) ([]byte, error)
	Walk(path string, fn storefs.WalkFunc) error
}

// Index answers reference questions about a store rooted at Root.
type Index struct {
	Root string
	FS   FS
}

// New returns an Index over the store rooted at root.
func New(root string, fs FS) *Index {
	return &Index{Root: root, FS: fs}
}

func (ix *Index) reposRoot() string { return filepath.Join(ix.Root, "repositories") }

func (ix *Index) repoDir(repo string) string { return filepath.Join(ix.reposRoot(), repo) }

// TagsOf returns the tags of repo, or ok=false if the repository's
// _manifests/tags directory is absent or cannot be listed.
func (ix *Index) TagsOf(repo string) (tags []string, ok bool) {
	tagsDir := filepath.Join(ix.repoDir(repo), "_manifests", "tags")
	if !ix.FS.IsDir(tagsDir) {
		return nil, false
	}
	names, err := ix.FS.ListDir(tagsDir)
	if err != nil {
		return nil, false
	}
	for _, n := range names {
		if ix.FS.IsDir(filepath.Join(tagsDir, n)) {
			tags = append(tags, n)
		}
	}
	return tags, true
}

// CurrentManifest reads the manifest digest tag currently points at. It
// returns an error (wrapping the underlying read/parse failure) if the
// link is missing or malformed.
func (ix *Index) CurrentManifest(repo, tag string) (digest.Digest, error) {
	path := filepath.Join(ix.repoDir(repo), "_manifests", "tags", tag, "current", "link")
	content, err := ix.FS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return linkref.Parse(content)
}

// LinksUnder walks path and parses every "link" file found under it. When
// substringFilter is non-empty, only link files whose full path contains it
// are included. Duplicates are preserved; callers deduplicate via a set.
func (ix *Index) LinksUnder(path string, substringFilter string) []digest.Digest {
	var result []digest.Digest
	_ = ix.FS.Walk(path, func(dir, name string) error {
		if name != "link" {
			return nil
		}
		full := filepath.Join(dir, name)
		if substringFilter != "" && !contains(full, substringFilter) {
			return nil
		}
		content, err := ix.FS.ReadFile(full)
		if err != nil {
			return nil
		}
		d, err := linkref.Parse(content)
		if err != nil {
			return nil
		}
		result = append(result, d)
		return nil
	})
	return result
}

// CurrentLinks returns the digests recorded under every
// ".../tags/<tag>/current/link" beneath path, found structurally (a link
// file counts only when its parent directory is named "current") rather
// than by substring-matching "current" in the path. The result matches the
// substring approach except when a tag name itself contains the text
// "current": the substring walk then also picks up that tag's index
// entries, while CurrentLinks does not.
func (ix *Index) CurrentLinks(path string) []digest.Digest {
	var result []digest.Digest
	_ = ix.FS.Walk(path, func(dir, name string) error {
		if name != "link" || filepath.Base(dir) != "current" {
			return nil
		}
		full := filepath.Join(dir, name)
		content, err := ix.FS.ReadFile(full)
		if err != nil {
			return nil
		}
		d, err := linkref.Parse(content)
		if err != nil {
			return nil
		}
		result = append(result, d)
		return nil
	})
	return result
}

// AllRepositories enumerates every repository in the store. A first-level
// directory under repositories/ that itself contains a _layers subdirectory
// is a leaf repository; otherwise each of its immediate children is a
// repository (two-segment "namespace/name" path). Deeper nesting is not
// represented.
func (ix *Index) AllRepositories() ([]string, error) {
	root := ix.reposRoot()
	if !ix.FS.IsDir(root) {
		return nil, nil
	}
	top, err := ix.FS.ListDir(root)
	if err != nil {
		return nil, err
	}

	var repos []string
	for _, name := range top {
		dir := filepath.Join(root, name)
		if !ix.FS.IsDir(dir) {
			continue
		}
		if ix.FS.IsDir(filepath.Join(dir, "_layers")) {
			repos = append(repos, name)
			continue
		}
		children, err := ix.FS.ListDir(dir)
		if err != nil {
			continue
		}
		for _, child := range children {
			if ix.FS.IsDir(filepath.Join(dir, child)) {
				repos = append(repos, filepath.Join(name, child))
			}
		}
	}
	return repos, nil
}

// AllLinks returns the union of LinksUnder over every repository in the
// store except exceptRepo (pass "" to include every repository). Used to
// test whether a blob is shared across repositories.
//
// Every repository's link tree is independent and read-only, so the walks
// fan out across an errgroup rather than running one repository at a time;
// a store with hundreds of repositories is the common case this is meant
// to help with. Each goroutine only appends to its own slice; results are
// merged into the returned set after every walk completes, so no lock is
// needed on the hot path.
func (ix *Index) AllLinks(exceptRepo string) (map[digest.Digest]struct{}, error) {
	repos, err := ix.AllRepositories()
	if err != nil {
		return nil, err
	}

	perRepo := make([][]digest.Digest, len(repos))
	var g errgroup.Group
	for i, r := range repos {
		if r == exceptRepo {
			continue
		}
		i, r := i, r
		g.Go(func() error {
			perRepo[i] = ix.LinksUnder(ix.repoDir(r), "")
			return nil
		})
	}
	_ = g.Wait() // LinksUnder never returns an error; nothing to propagate.

	result := make(map[digest.Digest]struct{})
	for _, links := range perRepo {
		for _, d := range links {
			result[d] = struct{}{}
		}
	}
	return result, nil
}

// LayersOfManifest returns the digests a manifest references, by locating
// the manifest's blob under ROOT/blobs/sha256/<dd>/<hex>/data and parsing it
// via manifestref.References.
func (ix *Index) LayersOfManifest(ctx context.Context, dgst digest.Digest) map[digest.Digest]struct{} {
	return manifestref.References(ctx, ix.FS, ix.BlobPath(dgst))
}

// BlobPath returns the path to a digest's content-addressed blob:
// ROOT/blobs/<algorithm>/<first two hex chars>/<hex>/data.
func (ix *Index) BlobPath(dgst digest.Digest) string {
	hex := dgst.Hex()
	return filepath.Join(ix.Root, "blobs", dgst.Algorithm().String(), hex[:2], hex, "data")
}

func contains(s, substr string) bool {
	return len(substr) == 0 || (len(s) >= len(substr) && indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
