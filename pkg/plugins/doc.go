// Package plugins is the entry point of plugin discovery: a Registry built from configured
// repositories that hands out factories for a capability across all of them.
//
// # Usage
//
//	reg, err := plugins.NewRegistry(ctx, cfg.Repositories, plugins.WithLogger(log))
//	if err != nil {
//		log.WithError(err).Warn("Some repositories could not be added")
//	}
//
//	greeters, err := plugins.GetFactoriesWhere[Greeter](reg, func(m GreeterMeta) bool {
//		return m.Language == "fr"
//	})
//	for _, f := range greeters {
//		g, err := f.CreateInstance(ctx)
//		...
//	}
//
// Selecting factories never loads anything; modules are loaded into the process when the
// first instance is created, once per module.
//
// # Watching
//
// Watch re-inspects directory repositories whenever their content changes.
package plugins
