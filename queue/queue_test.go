package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dudk/linepipe"
	"github.com/dudk/linepipe/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestInvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		q, err := queue.New(capacity)
		assert.Nil(t, q)
		assert.ErrorIs(t, err, linepipe.ErrInvalidCapacity)
	}
}

func TestFIFO(t *testing.T) {
	var tests = []struct {
		capacity int
		lines    []string
	}{
		{capacity: 1, lines: []string{"a"}},
		{capacity: 3, lines: []string{"a", "b", "c"}},
		{capacity: 10, lines: []string{"", "a", "<END>", "b"}},
	}
	for _, c := range tests {
		q, err := queue.New(c.capacity)
		require.NoError(t, err)
		for _, l := range c.lines {
			assert.NoError(t, q.Push(linepipe.Data(l)))
		}
		assert.Equal(t, len(c.lines), q.Len())
		for _, l := range c.lines {
			item, err := q.Pop()
			assert.NoError(t, err)
			assert.False(t, item.IsEnd())
			assert.Equal(t, l, item.String())
		}
		assert.Equal(t, 0, q.Len())
		assert.Equal(t, c.capacity, q.Cap())
	}
}

func TestWrapAround(t *testing.T) {
	q, err := queue.New(2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(linepipe.Data("x")))
		require.NoError(t, q.Push(linepipe.Data("y")))
		item, err := q.Pop()
		require.NoError(t, err)
		assert.Equal(t, "x", item.String())
		item, err = q.Pop()
		require.NoError(t, err)
		assert.Equal(t, "y", item.String())
	}
}

func TestPushBlocksWhenFull(t *testing.T) {
	q, err := queue.New(1)
	require.NoError(t, err)
	require.NoError(t, q.Push(linepipe.Data("first")))

	pushed := make(chan error)
	go func() {
		pushed <- q.Push(linepipe.Data("second"))
	}()
	select {
	case <-pushed:
		t.Fatal("push must block on full queue")
	case <-time.After(20 * time.Millisecond):
	}

	item, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "first", item.String())
	assert.NoError(t, <-pushed)

	item, err = q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "second", item.String())
}

func TestPopBlocksWhenEmpty(t *testing.T) {
	q, err := queue.New(4)
	require.NoError(t, err)

	type result struct {
		item linepipe.Item
		err  error
	}
	popped := make(chan result)
	go func() {
		item, err := q.Pop()
		popped <- result{item, err}
	}()
	select {
	case <-popped:
		t.Fatal("pop must block on empty queue")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, q.Push(linepipe.Data("hello")))
	r := <-popped
	assert.NoError(t, r.err)
	assert.Equal(t, "hello", r.item.String())
}

func TestCloseDrains(t *testing.T) {
	q, err := queue.New(5)
	require.NoError(t, err)
	for _, l := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(linepipe.Data(l)))
	}
	q.Close()
	// closing twice is fine.
	q.Close()
	assert.True(t, q.Closed())
	assert.ErrorIs(t, q.Push(linepipe.Data("d")), queue.ErrClosed)

	for _, l := range []string{"a", "b", "c"} {
		item, err := q.Pop()
		assert.NoError(t, err)
		assert.Equal(t, l, item.String())
	}
	_, err = q.Pop()
	assert.ErrorIs(t, err, queue.ErrClosed)
	_, err = q.Pop()
	assert.ErrorIs(t, err, queue.ErrClosed)
}

func TestCloseReleasesBlocked(t *testing.T) {
	t.Run("pop", func(t *testing.T) {
		q, err := queue.New(1)
		require.NoError(t, err)
		errc := make(chan error)
		go func() {
			_, err := q.Pop()
			errc <- err
		}()
		time.Sleep(5 * time.Millisecond)
		q.Close()
		assert.ErrorIs(t, <-errc, queue.ErrClosed)
	})
	t.Run("push", func(t *testing.T) {
		q, err := queue.New(1)
		require.NoError(t, err)
		require.NoError(t, q.Push(linepipe.Data("a")))
		errc := make(chan error)
		go func() {
			errc <- q.Push(linepipe.Data("b"))
		}()
		time.Sleep(5 * time.Millisecond)
		q.Close()
		assert.ErrorIs(t, <-errc, queue.ErrClosed)
		// buffered item survives.
		item, err := q.Pop()
		assert.NoError(t, err)
		assert.Equal(t, "a", item.String())
	})
}

func TestEndOfStream(t *testing.T) {
	t.Run("after items", func(t *testing.T) {
		q, err := queue.New(2)
		require.NoError(t, err)
		require.NoError(t, q.Push(linepipe.Data("a")))
		require.NoError(t, q.Push(linepipe.Data("b")))
		// full queue still accepts marker without blocking.
		require.NoError(t, q.Push(linepipe.EndOfStream))
		require.NoError(t, q.Push(linepipe.EndOfStream))
		assert.ErrorIs(t, q.Push(linepipe.Data("c")), queue.ErrClosed)

		var got []linepipe.Item
		for {
			item, err := q.Pop()
			if err != nil {
				assert.ErrorIs(t, err, queue.ErrClosed)
				break
			}
			got = append(got, item)
		}
		assert.Equal(t, []linepipe.Item{
			linepipe.Data("a"),
			linepipe.Data("b"),
			linepipe.EndOfStream,
		}, got)
	})
	t.Run("after close", func(t *testing.T) {
		q, err := queue.New(1)
		require.NoError(t, err)
		q.Close()
		require.NoError(t, q.Push(linepipe.EndOfStream))
		item, err := q.Pop()
		require.NoError(t, err)
		assert.True(t, item.IsEnd())
		_, err = q.Pop()
		assert.ErrorIs(t, err, queue.ErrClosed)
	})
	t.Run("wakes consumer", func(t *testing.T) {
		q, err := queue.New(1)
		require.NoError(t, err)
		itemc := make(chan linepipe.Item)
		go func() {
			item, _ := q.Pop()
			itemc <- item
		}()
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, q.Push(linepipe.EndOfStream))
		assert.True(t, (<-itemc).IsEnd())
	})
	t.Run("wakes producer", func(t *testing.T) {
		q, err := queue.New(1)
		require.NoError(t, err)
		require.NoError(t, q.Push(linepipe.Data("a")))
		errc := make(chan error)
		go func() {
			errc <- q.Push(linepipe.Data("b"))
		}()
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, q.Push(linepipe.EndOfStream))
		assert.ErrorIs(t, <-errc, queue.ErrClosed)
	})
}

func TestDestroy(t *testing.T) {
	q, err := queue.New(2)
	require.NoError(t, err)
	require.NoError(t, q.Push(linepipe.Data("a")))
	q.Destroy()
	q.Destroy()
	assert.ErrorIs(t, q.Push(linepipe.Data("b")), queue.ErrDestroyed)
	assert.ErrorIs(t, q.Push(linepipe.EndOfStream), queue.ErrDestroyed)
	_, err = q.Pop()
	assert.ErrorIs(t, err, queue.ErrDestroyed)
	assert.Equal(t, 0, q.Len())
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const n = 1000
	q, err := queue.New(3)
	require.NoError(t, err)

	go func() {
		for i := 0; i < n; i++ {
			_ = q.Push(linepipe.Data(string(rune('a' + i%26))))
		}
		_ = q.Push(linepipe.EndOfStream)
	}()

	count := 0
	for {
		item, err := q.Pop()
		require.NoError(t, err)
		if item.IsEnd() {
			break
		}
		assert.Equal(t, string(rune('a'+count%26)), item.String())
		count++
	}
	assert.Equal(t, n, count)
}
