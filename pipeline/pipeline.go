/*
Package pipeline wires plugins into a chain and streams lines through it.

Pipeline owns its stages. New starts every stage and attaches stage i to
stage i+1. Run feeds input into the first stage, sends the end-of-stream
marker and waits until every stage is done. Pipeline can be run only
once.
*/
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/dudk/linepipe"
	"github.com/dudk/linepipe/log"
)

// maxLineSize limits a single input line.
const maxLineSize = 1024 * 1024

// Pipeline is an ordered chain of stages.
type Pipeline struct {
	id       string
	capacity int
	stages   []linepipe.Plugin
	log      logrus.FieldLogger

	mu    sync.Mutex
	state State
	fed   int
}

// Option provides a way to set functional parameters to pipeline.
type Option func(*Pipeline)

// WithLogger sets logger to pipeline. If this option is not provided,
// log.GetLogger is used.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// New starts provided plugins with queues of provided capacity and
// chains them. If any plugin fails to start, plugins already started are
// stopped and *linepipe.StageError is returned.
func New(capacity int, plugins []linepipe.Plugin, options ...Option) (*Pipeline, error) {
	if capacity <= 0 {
		return nil, linepipe.ErrInvalidCapacity
	}
	if len(plugins) == 0 {
		return nil, ErrNoPlugins
	}
	p := &Pipeline{
		id:       linepipe.NewUID(),
		capacity: capacity,
		stages:   plugins,
		log:      log.GetLogger(),
	}
	for _, option := range options {
		option(p)
	}
	p.log = p.log.WithField("pipeline", p.id)

	for i, s := range plugins {
		if err := s.Init(capacity); err != nil {
			p.log.WithError(err).WithField("stage", s.Name()).Error("failed to start stage")
			if err := teardown(plugins[:i]); err != nil {
				p.log.WithError(err).Warn("failed to stop started stages")
			}
			return nil, &linepipe.StageError{Stage: s.Name(), Err: err}
		}
	}
	for i := 0; i < len(plugins)-1; i++ {
		plugins[i].Attach(plugins[i+1])
	}
	plugins[len(plugins)-1].Attach(nil)

	p.log.WithFields(logrus.Fields{
		"stages":   strings.Join(p.Stages(), ","),
		"capacity": capacity,
	}).Info("pipeline assembled")
	return p, nil
}

// teardown stops stages which were never chained.
func teardown(stages []linepipe.Plugin) error {
	var errs stageErrors
	for _, s := range stages {
		if err := s.Shutdown(); err != nil {
			errs = append(errs, &linepipe.StageError{Stage: s.Name(), Err: err})
		}
	}
	for _, s := range stages {
		if err := s.Join(); err != nil {
			errs = append(errs, &linepipe.StageError{Stage: s.Name(), Err: err})
		}
	}
	return errs.ret()
}

// Stages returns names of stages in chain order.
func (p *Pipeline) Stages() []string {
	return lo.Map(p.stages, func(s linepipe.Plugin, _ int) string {
		return s.Name()
	})
}

// State returns current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Fed returns number of lines fed into the first stage.
func (p *Pipeline) Fed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fed
}

func (p *Pipeline) transition(from, to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != from {
		return fmt.Errorf("%w: %v, expected %v", ErrInvalidState, p.state, from)
	}
	p.log.Debugf("%v -> %v", from, to)
	p.state = to
	return nil
}

// Run feeds lines from r into the first stage until r is exhausted, the
// <END> line is read, context is done or the first stage rejects a
// line. Then it sends end-of-stream marker and blocks until every stage
// is done.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) error {
	if err := p.transition(Assembling, Streaming); err != nil {
		return err
	}
	errs := p.feed(ctx, r)

	if err := p.transition(Streaming, Draining); err != nil {
		return err
	}
	errs = append(errs, p.drain()...)

	if err := p.transition(Draining, Terminated); err != nil {
		return err
	}
	p.log.WithField("lines", p.Fed()).Info("pipeline terminated")
	return errs.ret()
}

// feed enqueues input lines into the first stage.
func (p *Pipeline) feed(ctx context.Context, r io.Reader) stageErrors {
	first := p.stages[0]
	// closing the first queue releases Enqueue blocked on full queue.
	stop := context.AfterFunc(ctx, func() {
		_ = first.Shutdown()
	})
	defer stop()

	var errs stageErrors
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			break
		}
		item := linepipe.ParseLine(scanner.Text())
		if item.IsEnd() {
			p.log.Debug("end token received")
			break
		}
		if err := first.Enqueue(item); err != nil {
			if ctx.Err() == nil {
				p.log.WithError(err).WithField("stage", first.Name()).Error("failed to enqueue line")
				errs = append(errs, &linepipe.StageError{Stage: first.Name(), Err: err})
			}
			break
		}
		p.mu.Lock()
		p.fed++
		p.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		p.log.WithError(err).Error("failed to read input")
		errs = append(errs, fmt.Errorf("read input: %w", err))
	}
	if err := ctx.Err(); err != nil {
		p.log.WithError(err).Warn("feeding interrupted")
		errs = append(errs, err)
	}
	return errs
}

// drain sends end-of-stream marker and joins every stage in chain order.
func (p *Pipeline) drain() stageErrors {
	var errs stageErrors
	first := p.stages[0]
	if err := first.Enqueue(linepipe.EndOfStream); err != nil {
		p.log.WithError(err).Error("failed to send end-of-stream")
		errs = append(errs, &linepipe.StageError{Stage: first.Name(), Err: err})
	}
	for _, s := range p.stages {
		if err := s.Join(); err != nil {
			p.log.WithError(err).WithField("stage", s.Name()).Error("failed to join stage")
			errs = append(errs, &linepipe.StageError{Stage: s.Name(), Err: err})
		}
	}
	for _, s := range p.stages {
		if err := s.Shutdown(); err != nil {
			p.log.WithError(err).WithField("stage", s.Name()).Warn("failed to shutdown stage")
			errs = append(errs, &linepipe.StageError{Stage: s.Name(), Err: err})
		}
	}
	return errs
}

// Close terminates a pipeline which was never run. It's the same as
// running it with empty input. Closing terminated pipeline is no-op.
func (p *Pipeline) Close() error {
	switch p.State() {
	case Terminated:
		return nil
	case Assembling:
		return p.Run(context.Background(), strings.NewReader(""))
	}
	return fmt.Errorf("%w: pipeline is running", ErrInvalidState)
}
