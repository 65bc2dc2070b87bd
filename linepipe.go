package linepipe

import "github.com/rs/xid"

// EndToken is the literal reserved on the host input stream to signal
// the end of the stream.
const EndToken = "<END>"

// Item is a single unit flowing through the pipeline. It's either a line
// of data or the end-of-stream marker.
type Item struct {
	data string
	end  bool
}

// EndOfStream is the marker item. Every stage forwards it exactly once
// and terminates after it.
var EndOfStream = Item{end: true}

// Data wraps a line of text into an item. Data(EndToken) is an ordinary
// item, it doesn't terminate the pipeline.
func Data(s string) Item {
	return Item{data: s}
}

// ParseLine converts a line read from the host input into an item. The
// reserved EndToken becomes EndOfStream.
func ParseLine(line string) Item {
	if line == EndToken {
		return EndOfStream
	}
	return Data(line)
}

// IsEnd returns true if item is the end-of-stream marker.
func (i Item) IsEnd() bool {
	return i.end
}

// String returns the line carried by item. Marker is rendered as
// EndToken.
func (i Item) String() string {
	if i.end {
		return EndToken
	}
	return i.data
}

// TransformFunc maps one input line to zero or one output lines. If ok
// is false, the input is consumed and nothing is forwarded.
type TransformFunc func(in string) (out string, ok bool)

// Enqueuer is a capability to accept work. Stages hold an Enqueuer of
// their successor.
type Enqueuer interface {
	Enqueue(Item) error
}

// EnqueuerFunc allows to use ordinary functions as Enqueuer.
type EnqueuerFunc func(Item) error

// Enqueue calls fn(item).
func (fn EnqueuerFunc) Enqueue(item Item) error {
	return fn(item)
}

// Plugin is the contract every stage implementation must satisfy.
type Plugin interface {
	Enqueuer
	// Name returns the name plugin is registered with.
	Name() string
	// Init allocates the inbound queue and starts the worker.
	Init(capacity int) error
	// Attach sets the downstream stage. Nil means the plugin is terminal.
	Attach(next Enqueuer)
	// Shutdown closes the inbound queue. It never blocks.
	Shutdown() error
	// Join blocks until the worker is done and releases resources.
	Join() error
}

// NewUID returns new unique id value.
func NewUID() string {
	return xid.New().String()
}
