// Package cli provides the hubcap command-line interface.
//
// # Commands
//
// inspect: inspect every module file of a directory in isolated worker processes
//
//	hubcap inspect -timeout 10s -format json ./plugins
//
// list: build a registry from a configuration file and print its records
//
//	hubcap list -config hubcap.yaml -capability example.com/greet.Greeter
//
// serve: build a registry and serve it over HTTP, optionally watching directories
//
//	hubcap serve -config hubcap.yaml -addr :9090 -watch
//
// kinds: print the registered repository kinds
//
//	hubcap kinds
//
// history: print recorded inspections from the configured history database
//
//	hubcap history -config hubcap.yaml -status failure -since 24h
//
// refresh: ask every serving replica subscribed to the configured redis to re-inspect
//
//	hubcap refresh -config hubcap.yaml
//
// The binary must call isolation.Init first thing in main so that it can act as its own
// inspection worker.
package cli
