package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dudk/linepipe"
	"github.com/dudk/linepipe/metric"
	"github.com/dudk/linepipe/mock"
	"github.com/dudk/linepipe/pipeline"
	"github.com/dudk/linepipe/plugin"
	"github.com/dudk/linepipe/queue"
	"github.com/dudk/linepipe/stage"
	"github.com/dudk/linepipe/transform"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// builtins returns fresh built-in plugins.
func builtins(t *testing.T, env plugin.Env, names ...string) []linepipe.Plugin {
	t.Helper()
	l := &plugin.Loader{Registry: plugin.Builtin(), Env: env}
	plugins, err := l.LoadAll(names)
	require.NoError(t, err)
	return plugins
}

func TestRun(t *testing.T) {
	var tests = []struct {
		description string
		plugins     []string
		capacity    int
		input       string
		expected    []string
	}{
		{
			description: "flipper",
			plugins:     []string{plugin.Flipper},
			capacity:    10,
			input:       "ab\n<END>\n",
			expected:    []string{"ba"},
		},
		{
			description: "uppercaser",
			plugins:     []string{plugin.Uppercaser},
			capacity:    10,
			input:       "hi\n<END>\n",
			expected:    []string{"HI"},
		},
		{
			description: "no end token",
			plugins:     []string{plugin.Uppercaser, plugin.Flipper},
			capacity:    1,
			input:       "abc\nxyz",
			expected:    []string{"CBA", "ZYX"},
		},
		{
			description: "lines after end token are ignored",
			plugins:     []string{plugin.Rotator},
			capacity:    2,
			input:       "abc\n<END>\nignored\n",
			expected:    []string{"cab"},
		},
		{
			description: "same plugin twice",
			plugins:     []string{plugin.Expander, plugin.Expander},
			capacity:    3,
			input:       "ab\n",
			expected:    []string{"a   b"},
		},
		{
			description: "empty input",
			plugins:     []string{plugin.Uppercaser},
			capacity:    1,
			input:       "",
			expected:    []string{},
		},
		{
			description: "empty lines",
			plugins:     []string{plugin.Uppercaser},
			capacity:    1,
			input:       "\n\na\n",
			expected:    []string{"", "", "A"},
		},
	}
	for _, c := range tests {
		capture := &mock.Plugin{PluginName: "capture"}
		plugins := append(builtins(t, plugin.Env{}, c.plugins...), capture)
		p, err := pipeline.New(c.capacity, plugins)
		require.NoError(t, err, c.description)
		assert.Equal(t, pipeline.Assembling, p.State(), c.description)
		assert.Equal(t, c.capacity, capture.Capacity(), c.description)

		require.NoError(t, p.Run(context.Background(), strings.NewReader(c.input)), c.description)
		assert.Equal(t, pipeline.Terminated, p.State(), c.description)

		lines := []string{}
		markers := 0
		received := capture.Items()
		for _, item := range received {
			if item.IsEnd() {
				markers++
				continue
			}
			lines = append(lines, item.String())
		}
		assert.Equal(t, c.expected, lines, c.description)
		assert.Equal(t, 1, markers, c.description)
		assert.True(t, received[len(received)-1].IsEnd(), c.description)
	}
}

func TestRunWithSink(t *testing.T) {
	var out bytes.Buffer
	m := metric.New()
	env := plugin.Env{
		Stdout:  transform.NewSyncWriter(&out),
		Metrics: m,
	}
	plugins := builtins(t, env, plugin.Uppercaser, plugin.Flipper, plugin.SinkStdout)
	p, err := pipeline.New(1, plugins)
	require.NoError(t, err)
	assert.Equal(t, []string{plugin.Uppercaser, plugin.Flipper, plugin.SinkStdout}, p.Stages())

	require.NoError(t, p.Run(context.Background(), strings.NewReader("hello\nworld\n<END>\n")))
	assert.Equal(t, "OLLEH\nDLROW\n", out.String())
	assert.Equal(t, 2, p.Fed())

	for _, name := range p.Stages() {
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Markers.WithLabelValues(name)), name)
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Items.WithLabelValues(plugin.Flipper, string(metric.Forwarded))))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Items.WithLabelValues(plugin.SinkStdout, string(metric.Consumed))))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.StagesRunning))
}

func TestOrder(t *testing.T) {
	const lines = 500
	var (
		in       strings.Builder
		expected strings.Builder
		out      bytes.Buffer
	)
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&in, "line %d\n", i)
		fmt.Fprintf(&expected, "LINE %d\n", i)
	}
	env := plugin.Env{Stdout: transform.NewSyncWriter(&out)}
	p, err := pipeline.New(1, builtins(t, env, plugin.Uppercaser, plugin.Flipper, plugin.Flipper, plugin.SinkStdout))
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), strings.NewReader(in.String())))
	assert.Equal(t, expected.String(), out.String())
}

func TestRunTwice(t *testing.T) {
	p, err := pipeline.New(2, builtins(t, plugin.Env{}, plugin.Uppercaser))
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), strings.NewReader("a\n")))
	err = p.Run(context.Background(), strings.NewReader("b\n"))
	assert.ErrorIs(t, err, pipeline.ErrInvalidState)
	assert.Equal(t, pipeline.Terminated, p.State())
	assert.NoError(t, p.Close())
}

func TestClose(t *testing.T) {
	capture := &mock.Plugin{PluginName: "capture"}
	p, err := pipeline.New(2, append(builtins(t, plugin.Env{}, plugin.Uppercaser), capture))
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.Equal(t, pipeline.Terminated, p.State())
	assert.Equal(t, []linepipe.Item{linepipe.EndOfStream}, capture.Items())
	assert.NoError(t, p.Close())
	assert.ErrorIs(t, p.Run(context.Background(), strings.NewReader("a\n")), pipeline.ErrInvalidState)
}

func TestNew(t *testing.T) {
	t.Run("invalid capacity", func(t *testing.T) {
		_, err := pipeline.New(0, []linepipe.Plugin{&mock.Plugin{}})
		assert.ErrorIs(t, err, linepipe.ErrInvalidCapacity)
	})
	t.Run("no plugins", func(t *testing.T) {
		_, err := pipeline.New(1, nil)
		assert.ErrorIs(t, err, pipeline.ErrNoPlugins)
	})
	t.Run("init failure", func(t *testing.T) {
		errInit := errors.New("init failed")
		started := &mock.Plugin{PluginName: "started"}
		upper := stage.New("upper", transform.Upper)
		failing := &mock.Plugin{PluginName: "failing", ErrorOnInit: errInit}
		never := &mock.Plugin{PluginName: "never"}

		p, err := pipeline.New(4, []linepipe.Plugin{started, upper, failing, never})
		assert.Nil(t, p)
		assert.ErrorIs(t, err, errInit)
		var stageErr *linepipe.StageError
		require.True(t, errors.As(err, &stageErr))
		assert.Equal(t, "failing", stageErr.Stage)

		shutdowns, joins := started.Calls()
		assert.Equal(t, 1, shutdowns)
		assert.Equal(t, 1, joins)
		// started worker is stopped and its queue released.
		assert.ErrorIs(t, upper.Enqueue(linepipe.Data("x")), queue.ErrDestroyed)

		shutdowns, joins = failing.Calls()
		assert.Zero(t, shutdowns+joins)
		shutdowns, joins = never.Calls()
		assert.Zero(t, shutdowns+joins)
		assert.Zero(t, never.Capacity())
	})
}

func TestEnqueueFailure(t *testing.T) {
	errEnqueue := errors.New("rejected")
	first := &mock.Plugin{PluginName: "first", ErrorOnEnqueue: errEnqueue}
	capture := &mock.Plugin{PluginName: "capture"}
	p, err := pipeline.New(1, []linepipe.Plugin{first, capture})
	require.NoError(t, err)

	err = p.Run(context.Background(), strings.NewReader("a\nb\n"))
	assert.ErrorIs(t, err, errEnqueue)
	var stageErr *linepipe.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "first", stageErr.Stage)
	// marker still reaches the end of chain.
	assert.Equal(t, []linepipe.Item{linepipe.EndOfStream}, capture.Items())
	assert.Equal(t, pipeline.Terminated, p.State())
}

func TestJoinFailure(t *testing.T) {
	errJoin := errors.New("join failed")
	last := &mock.Plugin{PluginName: "last", ErrorOnJoin: errJoin}
	p, err := pipeline.New(1, []linepipe.Plugin{stage.New("upper", transform.Upper), last})
	require.NoError(t, err)
	err = p.Run(context.Background(), strings.NewReader("a\n"))
	assert.ErrorIs(t, err, errJoin)
	assert.Equal(t, pipeline.Terminated, p.State())
	assert.Equal(t, []linepipe.Item{linepipe.Data("A"), linepipe.EndOfStream}, last.Items())
}

func TestCancel(t *testing.T) {
	const lines = 1000
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow := stage.New("slow", func(in string) (string, bool) {
		time.Sleep(time.Millisecond)
		return in, true
	})
	capture := &mock.Plugin{PluginName: "capture"}
	p, err := pipeline.New(1, []linepipe.Plugin{slow, capture})
	require.NoError(t, err)

	input := strings.Repeat("x\n", lines)
	time.AfterFunc(20*time.Millisecond, cancel)
	err = p.Run(ctx, strings.NewReader(input))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, pipeline.Terminated, p.State())
	assert.Less(t, p.Fed(), lines)

	received := capture.Items()
	require.NotEmpty(t, received)
	last := received[len(received)-1]
	assert.True(t, last.IsEnd())
}
