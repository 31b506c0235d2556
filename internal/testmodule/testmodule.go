// Package testmodule serves module files for tests without building Go plugins.
//
// A file with the .testmod extension is a YAML description of a module whose types come from
// a fixed set of fixtures compiled into the test binary. Importing the package registers the
// opener, so a re-executed inspection worker can open the same files as its parent.
package testmodule

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/host"
)

// Ext is the extension of test module files.
const Ext = ".testmod"

// GreeterCapability is the alias accepted in Spec capabilities for Greeter.
const GreeterCapability = "greeter"

// Greeter is the capability exported by the fixtures.
type Greeter interface {
	Greet(name string) string
}

// GreeterA greets in English.
type GreeterA struct{}

// Greet implements Greeter.
func (*GreeterA) Greet(name string) string { return "Hello, " + name }

// GreeterB greets in French.
type GreeterB struct{}

// Greet implements Greeter.
func (*GreeterB) Greet(name string) string { return "Bonjour, " + name }

// Type names of the fixtures as they appear in records.
var (
	TypeA = capability.TypeName(reflect.TypeFor[*GreeterA]())
	TypeB = capability.TypeName(reflect.TypeFor[*GreeterB]())
)

// Spec describes a test module file.
type Spec struct {
	Name  string     `yaml:"name"`
	Types []TypeSpec `yaml:"types,omitempty"`

	// Stdout is written to standard output while the module is opened.
	Stdout string `yaml:"stdout,omitempty"`
	// Panic makes the opener panic.
	Panic bool `yaml:"panic,omitempty"`
	// Crash kills the opening process with an unrecovered panic on another goroutine.
	Crash bool `yaml:"crash,omitempty"`
	// Exit makes the opening process exit with the given code.
	Exit int `yaml:"exit,omitempty"`
	// Hang blocks the opener forever.
	Hang bool `yaml:"hang,omitempty"`
}

// TypeSpec declares one exported type.
type TypeSpec struct {
	// Fixture selects the implementation: "a" or "b".
	Fixture      string         `yaml:"fixture"`
	Capabilities []string       `yaml:"capabilities,omitempty"`
	Metadata     map[string]any `yaml:"metadata,omitempty"`
}

var opens atomic.Int64

// Opens returns how many times a test module was opened in this process.
func Opens() int64 {
	return opens.Load()
}

func init() {
	host.RegisterOpener(Ext, host.OpenerFunc(Open))
}

// Open reads a test module file and builds its module.
func Open(path string) (*capability.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	opens.Add(1)

	if spec.Stdout != "" {
		fmt.Fprint(os.Stdout, spec.Stdout)
	}
	switch {
	case spec.Panic:
		panic("test module " + spec.Name + " panicked")
	case spec.Crash:
		go func() { panic("test module " + spec.Name + " crashed") }()
		time.Sleep(time.Minute)
	case spec.Exit != 0:
		os.Exit(spec.Exit)
	case spec.Hang:
		select {}
	}

	m := capability.NewModule(spec.Name)
	for _, ts := range spec.Types {
		var opts []capability.Option
		for _, c := range ts.Capabilities {
			if c == GreeterCapability {
				opts = append(opts, capability.Provides[Greeter]())
				continue
			}
			opts = append(opts, capability.ProvidesID(capability.ID(c)))
		}
		for k, v := range ts.Metadata {
			opts = append(opts, capability.WithMetadata(k, v))
		}

		switch ts.Fixture {
		case "a":
			m.Types = append(m.Types, capability.Export(func() *GreeterA { return &GreeterA{} }, opts...))
		case "b":
			m.Types = append(m.Types, capability.Export(func() *GreeterB { return &GreeterB{} }, opts...))
		default:
			return nil, fmt.Errorf("unknown fixture %q", ts.Fixture)
		}
	}
	return m, nil
}

// Write stores spec as dir/name and returns the absolute path.
func Write(tb testing.TB, dir, name string, spec Spec) string {
	tb.Helper()
	data, err := yaml.Marshal(spec)
	if err != nil {
		tb.Fatalf("marshal test module: %v", err)
	}
	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		tb.Fatalf("resolve test module path: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write test module: %v", err)
	}
	return path
}

// Greeters is a spec with one English and one French greeter.
func Greeters(name string) Spec {
	return Spec{
		Name: name,
		Types: []TypeSpec{
			{Fixture: "a", Capabilities: []string{GreeterCapability}, Metadata: map[string]any{"language": "en"}},
			{Fixture: "b", Capabilities: []string{GreeterCapability}, Metadata: map[string]any{"language": "fr"}},
		},
	}
}
