// Command registry-gc garbage-collects a single image target (a tag, an
// entire repository, or a repository's untagged revisions) from a Docker
// Registry v2 on-disk store. It is a one-run-per-invocation driver: a
// registry-API client external to this binary decides *which* image to
// collect and invokes this command once per target.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/distribution/registry-gc/collector"
	"github.com/distribution/registry-gc/internal/dcontext"
	"github.com/distribution/registry-gc/rootconfig"
	"github.com/distribution/registry-gc/storefs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	image    string
	untagged bool
	dryRun   bool
	prune    bool
	verbose  bool
	force    bool
}

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:   "registry-gc",
		Short: "Garbage-collect one image target from a registry v2 data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.image, "image", "", "target image, repo[:tag] (required)")
	flags.BoolVar(&opts.untagged, "untagged", false, "collect untagged revisions of --image's repository instead")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "log intended deletions without performing them")
	flags.BoolVar(&opts.prune, "prune", false, "sweep empty directories after the primary operation")
	flags.BoolVar(&opts.verbose, "verbose", false, "raise log verbosity to debug")
	flags.BoolVar(&opts.force, "force", false, "deprecated, ignored")
	_ = cmd.MarkFlagRequired("image")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts options) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if opts.verbose {
		dcontext.SetLevel(logrus.DebugLevel)
	}
	ctx := dcontext.Background()
	log := dcontext.GetLogger(ctx)

	if opts.force {
		log.Warn("--force is deprecated and has no effect; the behavior it once guarded is now unconditional")
	}

	repo, tag, err := parseImage(opts.image)
	if err != nil {
		log.Errorf("registry-gc: %v", err)
		return err
	}

	root := rootconfig.DataDir()
	fs := storefs.New(opts.dryRun)
	c := collector.New(root, fs)

	var opErr error
	switch {
	case opts.untagged:
		opErr = c.DeleteUntagged(ctx, repo)
	case tag == "":
		opErr = c.DeleteRepository(ctx, repo)
	default:
		opErr = c.DeleteTag(ctx, repo, tag)
	}
	if opErr != nil {
		log.Errorf("registry-gc: %v", opErr)
		return opErr
	}

	if opts.prune {
		if err := c.Prune(ctx); err != nil {
			log.Errorf("registry-gc: prune: %v", err)
		}
	}

	return nil
}

// parseImage splits "repo[:tag]" into its parts. A repository name
// containing a colon is rejected rather than guessed at.
func parseImage(image string) (repo, tag string, err error) {
	if image == "" {
		return "", "", fmt.Errorf("--image is required")
	}
	parts := strings.Split(image, ":")
	switch len(parts) {
	case 1:
		return parts[0], "", nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("invalid image reference %q", image)
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("invalid image reference %q: repository names may not contain ':'", image)
	}
}
