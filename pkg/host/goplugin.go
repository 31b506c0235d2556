package host

import (
	"errors"
	"fmt"
	goplugin "plugin"

	"github.com/platinummonkey/hubcap/pkg/capability"
)

// ModuleSymbol is the symbol a Go plugin exports to describe itself.
const ModuleSymbol = "Module"

// GoPluginOpener opens shared objects built with -buildmode=plugin.
type GoPluginOpener struct{}

// Open loads the shared object and resolves its Module symbol, which may be a
// capability.Module, a *capability.Module or a func() *capability.Module.
func (GoPluginOpener) Open(path string) (*capability.Module, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	symbol, err := so.Lookup(ModuleSymbol)
	if err != nil {
		return nil, err
	}

	switch m := symbol.(type) {
	case *capability.Module:
		if m == nil {
			return nil, errors.New("module symbol is nil")
		}
		return m, nil
	case **capability.Module:
		if m == nil || *m == nil {
			return nil, errors.New("module symbol is nil")
		}
		return *m, nil
	case func() *capability.Module:
		return m(), nil
	case *func() *capability.Module:
		if m == nil || *m == nil {
			return nil, errors.New("module symbol is nil")
		}
		return (*m)(), nil
	default:
		return nil, fmt.Errorf("module symbol has unsupported type %T", symbol)
	}
}
