/*
Package stage implements a pipeline stage: an inbound queue, one worker
goroutine and a transform.

Worker pops items from the inbound queue, applies the transform and
forwards the result to the next stage. The end-of-stream marker is
forwarded as is and terminates the worker. If inbound queue is closed
and drained without a marker, worker still sends one downstream, so the
rest of the chain terminates too.
*/
package stage

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/dudk/linepipe"
	"github.com/dudk/linepipe/log"
	"github.com/dudk/linepipe/metric"
	"github.com/dudk/linepipe/queue"
)

var (
	// ErrNotInitialized is returned if stage is used before Init.
	ErrNotInitialized = errors.New("stage is not initialized")
	// ErrAlreadyInitialized is returned if Init is called twice.
	ErrAlreadyInitialized = errors.New("stage is already initialized")
)

// Stage is a single link of the chain. It implements linepipe.Plugin.
type Stage struct {
	id    string
	name  string
	fn    linepipe.TransformFunc
	log   logrus.FieldLogger
	meter *metric.Meter

	mu    sync.Mutex
	queue *queue.Queue
	next  linepipe.Enqueuer

	wg       conc.WaitGroup
	joinOnce sync.Once
}

// Option provides a way to set functional parameters to stage.
type Option func(*Stage)

// WithLogger sets logger to stage. If this option is not provided,
// log.GetLogger is used.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Stage) {
		s.log = l
	}
}

// WithMetric adds stage metrics to provided collector.
func WithMetric(m *metric.Metrics) Option {
	return func(s *Stage) {
		s.meter = m.Meter(s.name)
	}
}

// New creates a stage with provided name and transform. Stage doesn't
// do anything until Init is called.
func New(name string, fn linepipe.TransformFunc, options ...Option) *Stage {
	s := &Stage{
		id:   linepipe.NewUID(),
		name: name,
		fn:   fn,
		log:  log.GetLogger(),
	}
	for _, option := range options {
		option(s)
	}
	s.log = s.log.WithFields(logrus.Fields{
		"stage": name,
		"id":    s.id,
	})
	return s
}

// Name returns stage name.
func (s *Stage) Name() string {
	return s.name
}

// ID returns unique stage id.
func (s *Stage) ID() string {
	return s.id
}

// Init allocates inbound queue and starts the worker.
func (s *Stage) Init(capacity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return ErrAlreadyInitialized
	}
	q, err := queue.New(capacity)
	if err != nil {
		return err
	}
	s.queue = q
	s.wg.Go(func() {
		s.run(q)
	})
	s.log.WithField("capacity", capacity).Debug("stage started")
	return nil
}

// Attach sets the next stage. Nil makes this stage terminal.
func (s *Stage) Attach(next linepipe.Enqueuer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = next
}

// Enqueue pushes item into inbound queue. It blocks while queue is full.
func (s *Stage) Enqueue(item linepipe.Item) error {
	q, err := s.inbound()
	if err != nil {
		return err
	}
	return q.Push(item)
}

// Shutdown closes inbound queue. Items already buffered are still
// processed.
func (s *Stage) Shutdown() error {
	q, err := s.inbound()
	if err != nil {
		return err
	}
	q.Close()
	return nil
}

// Join blocks until the worker exits and releases inbound queue.
func (s *Stage) Join() error {
	q, err := s.inbound()
	if err != nil {
		return err
	}
	s.wg.Wait()
	s.joinOnce.Do(func() {
		q.Destroy()
		s.log.Debug("stage joined")
	})
	return nil
}

func (s *Stage) inbound() (*queue.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return nil, ErrNotInitialized
	}
	return s.queue, nil
}

func (s *Stage) nextStage() linepipe.Enqueuer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *Stage) run(q *queue.Queue) {
	defer s.meter.Start()()
	defer q.Close()
	for {
		item, err := q.Pop()
		if err != nil {
			s.log.WithError(err).Debug("inbound queue closed without marker")
			s.forward(linepipe.EndOfStream)
			return
		}
		if item.IsEnd() {
			s.meter.Marker()
			s.forward(item)
			return
		}
		s.process(item)
	}
}

func (s *Stage) process(item linepipe.Item) {
	measure := s.meter.Measure()
	out, ok, err := s.transform(item.String())
	if err != nil {
		s.log.WithError(err).Error("transform panicked, item dropped")
		measure(metric.Panicked)
		return
	}
	if !ok {
		measure(metric.Consumed)
		return
	}
	if err := s.forward(linepipe.Data(out)); err != nil {
		measure(metric.ForwardFailed)
		return
	}
	measure(metric.Forwarded)
}

// transform calls fn and converts its panic into an error.
func (s *Stage) transform(in string) (out string, ok bool, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		out, ok = s.fn(in)
	})
	if r := pc.Recovered(); r != nil {
		return "", false, r.AsError()
	}
	return out, ok, nil
}

func (s *Stage) forward(item linepipe.Item) error {
	next := s.nextStage()
	if next == nil {
		return nil
	}
	done := s.meter.Wait()
	err := next.Enqueue(item)
	done()
	if err != nil {
		s.log.WithError(err).WithField("item", item.String()).Warn("failed to forward item")
	}
	return err
}
