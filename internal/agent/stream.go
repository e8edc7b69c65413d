package agent

import (
	"strings"
	"sync"

	"askweb/internal/view"
)

// UpdateKind tells a consumer how to apply an update.
type UpdateKind string

const (
	// UpdateGenerating toggles the generation-in-progress flag.
	UpdateGenerating UpdateKind = "generating"
	// UpdateCollapsed toggles the collapse flag of the user's message.
	UpdateCollapsed UpdateKind = "collapsed"
	// UpdateComponent replaces the turn's streaming component.
	UpdateComponent UpdateKind = "component"
	// UpdateAppend appends a finished node below the turn.
	UpdateAppend UpdateKind = "append"
	// UpdateRelated replaces the pending follow-up panel while it streams.
	UpdateRelated UpdateKind = "related"
	// UpdateText carries answer text. Replace means the text so far is discarded.
	UpdateText UpdateKind = "text"
)

// Update is one event of a turn's output stream.
type Update struct {
	Kind    UpdateKind `json:"kind"`
	Flag    bool       `json:"flag,omitempty"`
	Node    *view.Node `json:"node,omitempty"`
	Text    string     `json:"text,omitempty"`
	Replace bool       `json:"replace,omitempty"`
}

// Emitter receives the updates of a running turn.
type Emitter interface {
	Emit(Update)
}

// TextBuffer accumulates the answer text of the current stage and mirrors
// every change to the emitter.
type TextBuffer struct {
	mu sync.Mutex
	b  strings.Builder
	ui Emitter
}

func NewTextBuffer(ui Emitter) *TextBuffer {
	return &TextBuffer{ui: ui}
}

// Append adds a delta.
func (t *TextBuffer) Append(delta string) {
	if delta == "" {
		return
	}
	t.mu.Lock()
	t.b.WriteString(delta)
	t.mu.Unlock()
	t.ui.Emit(Update{Kind: UpdateText, Text: delta})
}

// Set replaces the whole text.
func (t *TextBuffer) Set(text string) {
	t.mu.Lock()
	t.b.Reset()
	t.b.WriteString(text)
	t.mu.Unlock()
	t.ui.Emit(Update{Kind: UpdateText, Text: text, Replace: true})
}

// Reset clears the text, e.g. when a new stage starts writing.
func (t *TextBuffer) Reset() {
	t.mu.Lock()
	empty := t.b.Len() == 0
	t.b.Reset()
	t.mu.Unlock()
	if !empty {
		t.ui.Emit(Update{Kind: UpdateText, Replace: true})
	}
}

func (t *TextBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.b.String()
}

// Turn is the handle returned by Submit. Updates are delivered in the order
// they were emitted; the producer never blocks on the consumer.
type Turn struct {
	ID string

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Update
	closed  bool

	out      chan Update
	finished chan struct{}
	err      error
}

func newTurn(id string) *Turn {
	t := &Turn{
		ID:       id,
		out:      make(chan Update),
		finished: make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	go t.pump()
	return t
}

// Emit queues an update. Emits after the turn finished are dropped.
func (t *Turn) Emit(u Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.pending = append(t.pending, u)
	t.cond.Signal()
}

// Updates returns the ordered update stream. It is closed after the last
// update of a finished turn has been received. Consumers must drain it.
func (t *Turn) Updates() <-chan Update {
	return t.out
}

// Wait blocks until the turn has run to completion and returns the commit
// error, if any. It does not wait for Updates to be drained.
func (t *Turn) Wait() error {
	<-t.finished
	return t.err
}

// Done is closed when the turn has completed.
func (t *Turn) Done() <-chan struct{} {
	return t.finished
}

func (t *Turn) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.closed = true
	t.cond.Signal()
	t.mu.Unlock()
	close(t.finished)
}

func (t *Turn) pump() {
	for {
		t.mu.Lock()
		for len(t.pending) == 0 && !t.closed {
			t.cond.Wait()
		}
		if len(t.pending) == 0 {
			t.mu.Unlock()
			close(t.out)
			return
		}
		u := t.pending[0]
		t.pending[0] = Update{}
		t.pending = t.pending[1:]
		t.mu.Unlock()
		t.out <- u
	}
}

// Collect drains a turn and returns every update plus the turn's error.
func Collect(t *Turn) ([]Update, error) {
	var all []Update
	for u := range t.Updates() {
		all = append(all, u)
	}
	return all, t.Wait()
}
