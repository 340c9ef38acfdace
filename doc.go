// Package sceneshare implements the shared-object store a long-lived viewer
// session uses to keep expensive scene resources (mounted archive file systems,
// parsed maps, decoded textures) alive across scene switches.
//
// Every entry is built at most once per key, no matter how many concurrent
// callers ask for it. Entries are stamped with the scene generation that was
// current when they were committed or last touched; the session bumps the
// generation once per scene load and prunes entries that fell out of the
// retention window.
//
// Components:
//   - Share: keyed store with at-most-once construction and generational pruning.
//   - GenStore: where the generation counter lives. Local (in-process) by default,
//     optional Redis implementation for viewers sharing one generation.
//   - Hooks / Logger: observability, no-op by default.
//
// Keys are hierarchical paths owned by the caller:
//
//	<title>/FileSystem      - a title's mounted archive set
//	<title>/<map path>      - a parsed map shared by scenes of that title
//
// Lifecycle:
//
//	fs, err := sceneshare.Ensure(ctx, share, "HalfLife2/FileSystem", buildFS)
//	...
//	_, _ = share.LoadNewScene(ctx)   // once per scene load attempt
//	_, _ = share.PruneOldObjects(1)  // keep one previous generation alive
package sceneshare
