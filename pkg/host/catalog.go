package host

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/platinummonkey/hubcap/pkg/capability"
)

// Opener loads a module file into the current process.
type Opener interface {
	Open(path string) (*capability.Module, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string) (*capability.Module, error)

// Open implements Opener.
func (f OpenerFunc) Open(path string) (*capability.Module, error) {
	return f(path)
}

var (
	catalogMu sync.RWMutex
	linked    = make(map[string]*capability.Module)
	openers   = map[string]Opener{".so": GoPluginOpener{}}
)

// Register makes a module compiled into the binary available under its name.
// It panics if the module is nil, unnamed, or registered twice, like database/sql.Register.
func Register(m *capability.Module) {
	if m == nil || m.Name == "" {
		panic("host: Register called with nil or unnamed module")
	}
	if filepath.IsAbs(m.Name) {
		panic("host: module name must not be an absolute path: " + m.Name)
	}

	catalogMu.Lock()
	defer catalogMu.Unlock()
	if _, dup := linked[m.Name]; dup {
		panic("host: Register called twice for module " + m.Name)
	}
	linked[m.Name] = m
}

// RegisterOpener associates a file extension (including the leading dot) with an Opener.
// A later registration for the same extension replaces the earlier one.
func RegisterOpener(ext string, o Opener) {
	if o == nil {
		panic("host: RegisterOpener called with nil opener")
	}
	catalogMu.Lock()
	defer catalogMu.Unlock()
	openers[strings.ToLower(ext)] = o
}

// Modules returns the names of the modules compiled into the binary, sorted.
func Modules() []string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	names := make([]string, 0, len(linked))
	for name := range linked {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func linkedModule(name string) (*capability.Module, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	m, ok := linked[name]
	return m, ok
}

func openerFor(path string) (Opener, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	o, ok := openers[strings.ToLower(filepath.Ext(path))]
	return o, ok
}

// Loadable reports whether path has an extension with a registered Opener.
func Loadable(path string) bool {
	_, ok := openerFor(path)
	return ok
}

func errNoOpener(path string) error {
	return fmt.Errorf("%w: no opener for %q", ErrModuleNotFound, filepath.Ext(path))
}
