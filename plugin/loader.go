/*
Package plugin resolves plugin names into linepipe.Plugin instances.

Built-in plugins are looked up in a Registry. Any other name is resolved
to a shared object <dir>/<name>.so built with -buildmode=plugin, which
must export:

	func New() linepipe.Plugin
*/
package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goplugin "plugin"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/dudk/linepipe"
)

const (
	ext = ".so"
	// Symbol is the name of constructor every shared object must export.
	Symbol = "New"
)

var (
	// ErrNotFound is returned if plugin is neither built-in nor present
	// in plugin directory.
	ErrNotFound = errors.New("plugin not found")
	// ErrInvalidSymbol is returned if shared object exports Symbol with
	// unexpected type.
	ErrInvalidSymbol = errors.New("invalid plugin constructor")
)

// LoadError is returned if plugin cannot be resolved.
type LoadError struct {
	Name string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load plugin %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("load plugin %s from %s: %v", e.Name, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader resolves plugins by name.
type Loader struct {
	Registry *Registry
	Dir      string
	Env      Env
}

// Load returns a new instance of named plugin.
func (l *Loader) Load(name string) (linepipe.Plugin, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, &LoadError{Name: name, Err: ErrNotFound}
	}
	if l.Registry != nil {
		if p, ok := l.Registry.New(name, l.Env); ok {
			return p, nil
		}
	}
	if l.Dir == "" {
		return nil, &LoadError{Name: name, Err: ErrNotFound}
	}
	path := filepath.Join(l.Dir, name+ext)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = ErrNotFound
		}
		return nil, &LoadError{Name: name, Path: path, Err: err}
	}
	p, err := open(path)
	if err != nil {
		return nil, &LoadError{Name: name, Path: path, Err: err}
	}
	return p, nil
}

// LoadAll loads plugins in provided order. First failure is returned.
func (l *Loader) LoadAll(names []string) ([]linepipe.Plugin, error) {
	plugins := make([]linepipe.Plugin, 0, len(names))
	for _, name := range names {
		p, err := l.Load(name)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// List returns sorted names of built-in plugins and shared objects
// found in plugin directory.
func (l *Loader) List() ([]string, error) {
	var names []string
	if l.Registry != nil {
		names = l.Registry.Names()
	}
	if l.Dir != "" {
		entries, err := os.ReadDir(l.Dir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		names = append(names, lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
			if e.IsDir() || filepath.Ext(e.Name()) != ext {
				return "", false
			}
			return strings.TrimSuffix(e.Name(), ext), true
		})...)
	}
	names = lo.Uniq(names)
	slices.Sort(names)
	return names, nil
}

func open(path string) (linepipe.Plugin, error) {
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := so.Lookup(Symbol)
	if err != nil {
		return nil, err
	}
	var p linepipe.Plugin
	switch fn := sym.(type) {
	case func() linepipe.Plugin:
		p = fn()
	case *func() linepipe.Plugin:
		if *fn != nil {
			p = (*fn)()
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidSymbol, sym)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: constructor returned nil", ErrInvalidSymbol)
	}
	return p, nil
}
