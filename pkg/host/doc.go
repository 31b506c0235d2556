// Package host tracks the modules resident in the host process.
//
// Two kinds of source identity are understood:
//
//   - a module name, resolved against the catalog of modules compiled into the binary
//     (see Register);
//   - an absolute file path, opened by the Opener registered for the file extension
//     (see RegisterOpener). Go plugins (".so") are supported out of the box.
//
// A Host loads each source at most once. Concurrent loads of the same source are collapsed
// into a single open, and loaded modules are never evicted: Go cannot unload a plugin, so the
// set of resident modules only grows for the lifetime of the Host.
//
//	h := host.New(host.WithLogger(log))
//	m, err := h.Load(ctx, "/opt/app/plugins/greeters.so")
package host
