// Package capability defines the vocabulary a module uses to announce the extension points
// ("capabilities") its types implement, and the plain-data records produced when a module is
// inspected.
//
// # Declaring exports
//
// A module is an ordered list of exported types. Each type names its constructor, the
// capabilities it provides, and metadata shared by all of its declarations:
//
//	var Module = capability.NewModule("greeters",
//		capability.Export(func() *English { return &English{} },
//			capability.Provides[greet.Greeter](),
//			capability.WithMetadata("Name", "english"),
//			capability.WithMetadata("Priority", 10),
//		),
//	)
//
// Modules compiled into the host register themselves with the host package. Modules shipped as
// Go plugins export the same value as a package-level symbol named Module.
//
// # Identity
//
// A capability is identified by the fully qualified name of its Go interface type:
//
//	capability.Of[greet.Greeter]() // "example.com/greet.Greeter"
//
// # Records
//
// Record is what survives inspection. It holds no reference to loaded code and can be moved
// across process boundaries as JSON; Source and Type are enough to locate the implementation
// again.
package capability
