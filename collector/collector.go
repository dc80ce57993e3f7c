// Package collector implements the three garbage-collection policies that
// make deletion decisions against the on-disk store: delete an entire
// repository, delete one tag, and delete a repository's untagged
// revisions. Every policy computes its deletion set against a fresh
// reference index before issuing any mutating call (the one exception:
// DeleteTag removes a dangling sibling tag as soon as it finds one while
// planning), so a blob still
// referenced anywhere else in the store always survives. Each policy is
// driven by an explicit (repository, tag) target per invocation rather
// than a full-store mark-and-sweep.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/distribution/registry-gc/internal/dcontext"
	"github.com/distribution/registry-gc/manifestref"
	"github.com/distribution/registry-gc/refindex"
	"github.com/distribution/registry-gc/storefs"
	"github.com/opencontainers/go-digest"
)

// Kind classifies a collector error for the driver's exit-code and logging
// decisions.
type Kind int

const (
	// KindStructural marks a missing repository or tag: the driver should
	// treat the run as a fatal domain error.
	KindStructural Kind = iota
	// KindParse marks an unreadable manifest or link; the collector
	// degrades to conservative retention and continues.
	KindParse
	// KindIO marks a filesystem failure. A failed per-item delete is only
	// logged and the policy continues with the next item; a failed read the
	// policy depends on, or a failed removal of the target repository or
	// tag directory, is returned.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindParse:
		return "parse"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is the typed error the three policy entry points return, with Kind
// KindStructural or KindIO. KindParse failures are logged inline and do not
// surface through this type.
type Error struct {
	Kind Kind
	Op   string
	Repo string
	Tag  string
	Err  error
}

func (e *Error) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("collector: %s %s/%s: %s: %v", e.Op, e.Repo, e.Tag, e.Kind, e.Err)
	}
	return fmt.Sprintf("collector: %s %s: %s: %v", e.Op, e.Repo, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Collector computes and executes deletions against a store rooted at
// Root. It is the sole caller of storefs's mutating operations; every
// other package only computes sets.
type Collector struct {
	Root  string
	FS    *storefs.Adapter
	Index *refindex.Index
}

// New returns a Collector over the store rooted at root, using fs for all
// filesystem access (its dry-run setting governs every deletion this
// Collector performs).
func New(root string, fs *storefs.Adapter) *Collector {
	return &Collector{Root: root, FS: fs, Index: refindex.New(root, fs)}
}

func (c *Collector) repoDir(repo string) string {
	return filepath.Join(c.Root, "repositories", repo)
}

func (c *Collector) tagDir(repo, tag string) string {
	return filepath.Join(c.repoDir(repo), "_manifests", "tags", tag)
}

func (c *Collector) tagIndexEntryDir(repo, tag string, d digest.Digest) string {
	return filepath.Join(c.tagDir(repo, tag), "index", "sha256", d.Hex())
}

func (c *Collector) revisionsDir(repo string) string {
	return filepath.Join(c.repoDir(repo), "_manifests", "revisions", "sha256")
}

func (c *Collector) revisionDir(repo string, d digest.Digest) string {
	return filepath.Join(c.revisionsDir(repo), d.Hex())
}

func (c *Collector) layersDir(repo string) string {
	return filepath.Join(c.repoDir(repo), "_layers", "sha256")
}

func (c *Collector) layerLinkDir(repo string, d digest.Digest) string {
	return filepath.Join(c.layersDir(repo), d.Hex())
}

// blobDir returns the directory holding a digest's content-addressed blob
// (the parent of its "data" file); removing it removes the blob.
func (c *Collector) blobDir(d digest.Digest) string {
	return filepath.Dir(c.Index.BlobPath(d))
}

func uniqueDigests(ds []digest.Digest) map[digest.Digest]struct{} {
	m := make(map[digest.Digest]struct{}, len(ds))
	for _, d := range ds {
		m[d] = struct{}{}
	}
	return m
}

// DeleteRepository removes an entire repository: every blob it alone
// references is deleted, blobs shared with another repository are
// retained, then the repository directory itself is removed.
func (c *Collector) DeleteRepository(ctx context.Context, repo string) error {
	dir := c.repoDir(repo)
	if !c.FS.IsDir(dir) {
		return &Error{Kind: KindStructural, Op: "delete_repository", Repo: repo, Err: errors.New("repository not found")}
	}

	owned := uniqueDigests(c.Index.LinksUnder(dir, ""))
	elsewhere, err := c.Index.AllLinks(repo)
	if err != nil {
		return &Error{Kind: KindIO, Op: "delete_repository", Repo: repo, Err: err}
	}

	for d := range owned {
		if _, ok := elsewhere[d]; ok {
			dcontext.GetLogger(ctx).Infof("delete_repository: retaining blob %s, referenced outside %s", d, repo)
			continue
		}
		if _, err := c.FS.RemoveTree(ctx, c.blobDir(d)); err != nil {
			dcontext.GetLogger(ctx).Errorf("delete_repository: failed to remove blob %s: %v", d, err)
		}
	}

	if _, err := c.FS.RemoveTree(ctx, dir); err != nil {
		return &Error{Kind: KindIO, Op: "delete_repository", Repo: repo, Err: err}
	}
	return nil
}

// manifestDeletion records a decision made about one manifest revision
// belonging to the tag being deleted.
type manifestDeletion struct {
	Digest     digest.Digest
	DeleteBlob bool
}

// layerDeletion records a decision made about one layer referenced only by
// manifests of the tag being deleted.
type layerDeletion struct {
	Digest     digest.Digest
	DeleteBlob bool
}

// tagPlan is the full set of decisions computed for one delete-tag
// invocation, shared by DeleteTag (which executes it) and PlanDeleteTag
// (which only reports it).
type tagPlan struct {
	tagDir            string
	manifests         []manifestDeletion
	layers            []layerDeletion
	danglingOtherTags []string
}

// otherTagState scans every tag in repo other than excludeTag, returning
// the set of their current manifest digests (same-repo manifest reuse) and
// the set of digests their manifests reference (same-repo layer reuse). A
// tag whose current manifest blob is missing is itself garbage ("dangling
// other-tag manifest"): when executeDangling is true its directory is
// removed immediately. PlanDeleteTag calls this with executeDangling=false
// so planning never mutates the store; the dangling tag is only reported.
func (c *Collector) otherTagState(ctx context.Context, repo, excludeTag string, executeDangling bool) (currents, layers map[digest.Digest]struct{}, dangling []string, err error) {
	currents = map[digest.Digest]struct{}{}
	layers = map[digest.Digest]struct{}{}

	tags, ok := c.Index.TagsOf(repo)
	if !ok {
		return currents, layers, dangling, nil
	}

	for _, t := range tags {
		if t == excludeTag {
			continue
		}
		m, merr := c.Index.CurrentManifest(repo, t)
		if merr != nil {
			dangling = append(dangling, t)
			if executeDangling {
				c.removeDanglingTag(ctx, repo, t)
			}
			continue
		}
		blobPath := c.Index.BlobPath(m)
		if _, rerr := c.FS.ReadFile(blobPath); rerr != nil {
			if errors.Is(rerr, fs.ErrNotExist) {
				dangling = append(dangling, t)
				if executeDangling {
					c.removeDanglingTag(ctx, repo, t)
				}
				continue
			}
			return nil, nil, nil, &Error{Kind: KindIO, Op: "delete_tag", Repo: repo, Tag: excludeTag,
				Err: fmt.Errorf("reading manifest blob for tag %s: %w", t, rerr)}
		}
		currents[m] = struct{}{}
		for l := range manifestref.References(ctx, c.FS, blobPath) {
			layers[l] = struct{}{}
		}
	}
	return currents, layers, dangling, nil
}

func (c *Collector) removeDanglingTag(ctx context.Context, repo, tag string) {
	dir := c.tagDir(repo, tag)
	dcontext.GetLogger(ctx).Warnf("delete_tag: tag %s/%s points at a missing manifest blob, removing", repo, tag)
	if _, err := c.FS.RemoveTree(ctx, dir); err != nil {
		dcontext.GetLogger(ctx).Errorf("delete_tag: failed to remove dangling tag %s/%s: %v", repo, tag, err)
	}
}

// planTagDeletion computes the full tagPlan for repo/tag without touching
// manifest, layer, or revision state; the only mutation it may perform is
// removing a sibling tag discovered to be dangling, and only when
// executeDangling is true.
func (c *Collector) planTagDeletion(ctx context.Context, repo, tag string, executeDangling bool) (*tagPlan, error) {
	tDir := c.tagDir(repo, tag)
	if !c.FS.IsDir(tDir) {
		return nil, &Error{Kind: KindStructural, Op: "delete_tag", Repo: repo, Tag: tag, Err: errors.New("tag not found")}
	}

	manifests := uniqueDigests(c.Index.LinksUnder(tDir, ""))

	elsewhere, err := c.Index.AllLinks(repo)
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: "delete_tag", Repo: repo, Tag: tag, Err: err}
	}

	otherCurrents, otherLayers, dangling, err := c.otherTagState(ctx, repo, tag, executeDangling)
	if err != nil {
		return nil, err
	}

	plan := &tagPlan{tagDir: tDir, danglingOtherTags: dangling}
	layerSet := map[digest.Digest]struct{}{}

	for m := range manifests {
		if _, reused := otherCurrents[m]; reused {
			continue
		}
		_, keepBlob := elsewhere[m]
		plan.manifests = append(plan.manifests, manifestDeletion{Digest: m, DeleteBlob: !keepBlob})
		for l := range c.Index.LayersOfManifest(ctx, m) {
			layerSet[l] = struct{}{}
		}
	}

	for l := range layerSet {
		if _, reused := otherLayers[l]; reused {
			continue
		}
		_, keepBlob := elsewhere[l]
		plan.layers = append(plan.layers, layerDeletion{Digest: l, DeleteBlob: !keepBlob})
	}

	return plan, nil
}

func (c *Collector) executeTagDeletion(ctx context.Context, repo string, plan *tagPlan) {
	tags, _ := c.Index.TagsOf(repo)

	for _, md := range plan.manifests {
		for _, t := range tags {
			idxDir := c.tagIndexEntryDir(repo, t, md.Digest)
			if c.FS.IsDir(idxDir) {
				if _, err := c.FS.RemoveTree(ctx, idxDir); err != nil {
					dcontext.GetLogger(ctx).Errorf("delete_tag: failed to remove index entry %s: %v", idxDir, err)
				}
			}
		}
		if md.DeleteBlob {
			if _, err := c.FS.RemoveTree(ctx, c.blobDir(md.Digest)); err != nil {
				dcontext.GetLogger(ctx).Errorf("delete_tag: failed to remove manifest blob %s: %v", md.Digest, err)
			}
		}
		if _, err := c.FS.RemoveTree(ctx, c.revisionDir(repo, md.Digest)); err != nil {
			dcontext.GetLogger(ctx).Errorf("delete_tag: failed to remove revision %s: %v", md.Digest, err)
		}
	}

	for _, ld := range plan.layers {
		if _, err := c.FS.RemoveTree(ctx, c.layerLinkDir(repo, ld.Digest)); err != nil {
			dcontext.GetLogger(ctx).Errorf("delete_tag: failed to remove layer link %s: %v", ld.Digest, err)
		}
		if ld.DeleteBlob {
			if _, err := c.FS.RemoveTree(ctx, c.blobDir(ld.Digest)); err != nil {
				dcontext.GetLogger(ctx).Errorf("delete_tag: failed to remove blob %s: %v", ld.Digest, err)
			}
		}
	}
}

// DeleteTag removes one tag of a repository: manifests and layers it alone
// owns are deleted, anything reused by another tag of the same repository
// or referenced by another repository is retained, and the tag directory
// itself is finally removed.
func (c *Collector) DeleteTag(ctx context.Context, repo, tag string) error {
	plan, err := c.planTagDeletion(ctx, repo, tag, true)
	if err != nil {
		return err
	}
	c.executeTagDeletion(ctx, repo, plan)
	if _, err := c.FS.RemoveTree(ctx, plan.tagDir); err != nil {
		return &Error{Kind: KindIO, Op: "delete_tag", Repo: repo, Tag: tag, Err: err}
	}
	return nil
}

// TagDeletionPlan is a read-only report of what DeleteTag would do, without
// performing any deletion. It exists for an external selection driver that
// wants to show or log an intended deletion before committing to it.
type TagDeletionPlan struct {
	Repo                  string
	Tag                   string
	ManifestsToDelete     []digest.Digest
	ManifestBlobsToDelete []digest.Digest
	LayersToDelete        []digest.Digest
	LayerBlobsToDelete    []digest.Digest
	// DanglingOtherTags lists sibling tags found pointing at a missing
	// manifest blob while planning. DeleteTag would remove them; planning
	// does not.
	DanglingOtherTags []string
}

// PlanDeleteTag computes what DeleteTag(repo, tag) would delete without
// deleting anything, including leaving any dangling sibling tag discovered
// along the way untouched.
func (c *Collector) PlanDeleteTag(ctx context.Context, repo, tag string) (*TagDeletionPlan, error) {
	plan, err := c.planTagDeletion(ctx, repo, tag, false)
	if err != nil {
		return nil, err
	}

	out := &TagDeletionPlan{Repo: repo, Tag: tag, DanglingOtherTags: plan.danglingOtherTags}
	for _, md := range plan.manifests {
		out.ManifestsToDelete = append(out.ManifestsToDelete, md.Digest)
		if md.DeleteBlob {
			out.ManifestBlobsToDelete = append(out.ManifestBlobsToDelete, md.Digest)
		}
	}
	for _, ld := range plan.layers {
		out.LayersToDelete = append(out.LayersToDelete, ld.Digest)
		if ld.DeleteBlob {
			out.LayerBlobsToDelete = append(out.LayerBlobsToDelete, ld.Digest)
		}
	}
	return out, nil
}

// DeleteUntagged removes a repository's revisions that no tag currently
// points at. A global protection set, built from every current-tag
// manifest across the whole store, guarantees layer liveness (I1) even
// though the decision is otherwise scoped to one repository.
func (c *Collector) DeleteUntagged(ctx context.Context, repo string) error {
	dir := c.repoDir(repo)
	if !c.FS.IsDir(dir) {
		return &Error{Kind: KindStructural, Op: "delete_untagged", Repo: repo, Err: errors.New("repository not found")}
	}

	protected := map[digest.Digest]struct{}{}
	for _, m := range c.Index.CurrentLinks(filepath.Join(c.Root, "repositories")) {
		for l := range c.Index.LayersOfManifest(ctx, m) {
			protected[l] = struct{}{}
		}
	}

	tagged := uniqueDigests(c.Index.CurrentLinks(dir))

	elsewhere, err := c.Index.AllLinks(repo)
	if err != nil {
		return &Error{Kind: KindIO, Op: "delete_untagged", Repo: repo, Err: err}
	}

	names, err := c.FS.ListDir(c.revisionsDir(repo))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &Error{Kind: KindIO, Op: "delete_untagged", Repo: repo, Err: err}
	}

	var toDelete []digest.Digest
	layersToDelete := map[digest.Digest]struct{}{}

	for _, hex := range names {
		r := digest.NewDigestFromHex("sha256", hex)
		if _, ok := tagged[r]; ok {
			continue
		}
		toDelete = append(toDelete, r)
		for l := range c.Index.LayersOfManifest(ctx, r) {
			if _, isProtected := protected[l]; !isProtected {
				layersToDelete[l] = struct{}{}
			}
		}
	}

	for _, r := range toDelete {
		if _, ok := elsewhere[r]; !ok {
			if _, err := c.FS.RemoveTree(ctx, c.blobDir(r)); err != nil {
				dcontext.GetLogger(ctx).Errorf("delete_untagged: failed to remove manifest blob %s: %v", r, err)
			}
		}
		if _, err := c.FS.RemoveTree(ctx, c.revisionDir(repo, r)); err != nil {
			dcontext.GetLogger(ctx).Errorf("delete_untagged: failed to remove revision %s: %v", r, err)
		}
	}

	for l := range layersToDelete {
		if _, err := c.FS.RemoveTree(ctx, c.blobDir(l)); err != nil {
			dcontext.GetLogger(ctx).Errorf("delete_untagged: failed to remove blob %s: %v", l, err)
		}
		if _, err := c.FS.RemoveTree(ctx, c.layerLinkDir(repo, l)); err != nil {
			dcontext.GetLogger(ctx).Errorf("delete_untagged: failed to remove layer link %s: %v", l, err)
		}
	}

	return nil
}

// Prune sweeps empty directories left behind by prior deletions. It never
// returns an error to the caller: a failed sweep is logged, and a later
// Prune call sweeps again.
func (c *Collector) Prune(ctx context.Context) error {
	if err := c.FS.RemoveEmptyDirs(ctx, c.Root); err != nil {
		dcontext.GetLogger(ctx).Errorf("prune: %v", err)
	}
	return nil
}
