// Package selectiondriver documents the contract of the external collaborator
// that is out of scope for this repository: a registry-API client that
// lists repositories and tags, applies selection rules (regex, age, keep-N),
// and invokes the collector once per tag it decides to remove.
//
// No implementation lives here. The interface exists so the boundary is
// typed and discoverable from within this module; an operator wires a real
// driver (an HTTP client against the registry's catalog and tags-list
// endpoints) outside this repository and calls into collector.Collector
// directly, without this module owning the driver's implementation.
package selectiondriver

import "context"

// Target names one unit of work for the collector: a repository, and
// optionally a tag. An empty Tag means "the whole repository".
type Target struct {
	Repository string
	Tag        string
}

// Driver selects which images to remove and hands each one to a Collector.
// Non-goal of this repository: the HTTP calls, regex/date/count selection
// policy, and registry catalog pagination a real driver performs.
type Driver interface {
	// Select returns the targets this run should remove.
	Select(ctx context.Context) ([]Target, error)
}
