// Package factory provides deferred-construction handles bound to capability records.
//
// A Factory only holds plain data until CreateInstance is called; at that point the owning
// module is loaded into the host (once per source) and a fresh instance is constructed.
package factory
