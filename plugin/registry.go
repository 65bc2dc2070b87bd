package plugin

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/dudk/linepipe"
	"github.com/dudk/linepipe/log"
	"github.com/dudk/linepipe/metric"
	"github.com/dudk/linepipe/stage"
	"github.com/dudk/linepipe/transform"
)

// Built-in plugin names.
const (
	Uppercaser = "uppercaser"
	Flipper    = "flipper"
	Rotator    = "rotator"
	Expander   = "expander"
	Logger     = "logger"
	Typewriter = "typewriter"
	SinkStdout = "sink_stdout"
)

// ErrDuplicate is returned if plugin name is already registered.
var ErrDuplicate = errors.New("plugin is already registered")

// Env is a set of shared resources plugins are built with.
type Env struct {
	// Stdout receives plugin output. It must be safe for concurrent use.
	Stdout io.Writer
	// OutputDir and LogFile define the file logger plugin appends to.
	OutputDir string
	LogFile   string
	// TypewriterDelay is a pause between characters.
	TypewriterDelay time.Duration
	Logger          logrus.FieldLogger
	Metrics         *metric.Metrics
}

func (e Env) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return log.GetLogger()
	}
	return e.Logger
}

func (e Env) stdout() io.Writer {
	if e.Stdout == nil {
		return transform.NewSyncWriter(os.Stdout)
	}
	return e.Stdout
}

func (e Env) stageOptions() []stage.Option {
	return []stage.Option{
		stage.WithLogger(e.logger()),
		stage.WithMetric(e.Metrics),
	}
}

// Factory builds a new plugin instance. Every call returns a fresh
// instance, so the same plugin can appear in a chain multiple times.
type Factory func(env Env) linepipe.Plugin

// Registry maps plugin names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Builtin returns a registry with all built-in plugins.
func Builtin() *Registry {
	r := NewRegistry()
	for name, fn := range map[string]linepipe.TransformFunc{
		Uppercaser: transform.Upper,
		Flipper:    transform.Flip,
		Rotator:    transform.Rotate,
		Expander:   transform.Expand,
	} {
		r.mustRegister(name, transformFactory(name, fn))
	}
	r.mustRegister(Logger, newLogStage)
	r.mustRegister(Typewriter, func(env Env) linepipe.Plugin {
		return stage.New(Typewriter,
			transform.Typewriter(env.stdout(), env.TypewriterDelay, env.logger()),
			env.stageOptions()...)
	})
	r.mustRegister(SinkStdout, func(env Env) linepipe.Plugin {
		return stage.New(SinkStdout,
			transform.Sink(env.stdout(), env.logger()),
			env.stageOptions()...)
	})
	return r
}

func transformFactory(name string, fn linepipe.TransformFunc) Factory {
	return func(env Env) linepipe.Plugin {
		return stage.New(name, fn, env.stageOptions()...)
	}
}

// Register adds a factory under provided name.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrDuplicate)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) mustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// New builds a plugin registered under provided name.
func (r *Registry) New(name string, env Env) (linepipe.Plugin, bool) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(env), true
}

// Names returns sorted names of registered plugins.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := lo.Keys(r.factories)
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// logStage is a stage which appends every line to a file. The file is
// opened on Init and closed on Join.
type logStage struct {
	*stage.Stage
	file      *logFile
	closeOnce sync.Once
}

type logFile struct {
	path string
	f    *os.File
}

func (l *logFile) Write(p []byte) (int, error) {
	return l.f.Write(p)
}

func newLogStage(env Env) linepipe.Plugin {
	file := &logFile{
		path: filepath.Join(env.OutputDir, env.LogFile),
	}
	return &logStage{
		Stage: stage.New(Logger,
			transform.Logger(env.stdout(), file, env.logger()),
			env.stageOptions()...),
		file: file,
	}
}

// Init creates output directory, opens log file and starts the stage.
func (s *logStage) Init(capacity int) error {
	if s.file.f != nil {
		return stage.ErrAlreadyInitialized
	}
	if err := os.MkdirAll(filepath.Dir(s.file.path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(s.file.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	s.file.f = f
	if err := s.Stage.Init(capacity); err != nil {
		f.Close()
		s.file.f = nil
		return err
	}
	return nil
}

// Join waits for the stage and closes log file.
func (s *logStage) Join() error {
	if err := s.Stage.Join(); err != nil {
		return err
	}
	var err error
	s.closeOnce.Do(func() {
		err = s.file.f.Close()
	})
	return err
}
