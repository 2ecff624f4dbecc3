package progress

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const (
	// DefaultPollInterval is how often the render loop checks the pause token
	DefaultPollInterval = 25 * time.Millisecond
	// DefaultRedrawInterval is the spinner cadence
	DefaultRedrawInterval = 100 * time.Millisecond

	clearLine = "\r\x1b[K"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Listener receives every phase event, synchronously and in update order
type Listener func(Event)

// PauseToken suspends rendering while someone else owns the output line.
// Pauses nest: rendering resumes when every Pause has been matched by a Resume.
type PauseToken struct {
	mu    sync.Mutex
	depth int
}

func (t *PauseToken) set() {
	t.mu.Lock()
	t.depth++
	t.mu.Unlock()
}

func (t *PauseToken) clear() {
	t.mu.Lock()
	if t.depth > 0 {
		t.depth--
	}
	t.mu.Unlock()
}

// Paused reports whether rendering is currently suspended
func (t *PauseToken) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.depth > 0
}

// Broadcaster reports the current turn phase and animates it on out.
// It is safe for concurrent use; one instance is shared by every turn
// that writes to the same terminal.
type Broadcaster struct {
	out   io.Writer
	token PauseToken

	// outMu guards every write to out. Holding it while checking the token
	// is what guarantees no frame lands after Pause returns.
	outMu     sync.Mutex
	lineDrawn bool
	frame     int

	mu          sync.Mutex
	current     Event
	activeTurns int
	turnStarted time.Time
	listeners   map[int]Listener
	nextID      int

	// notifyMu keeps listener calls in update order
	notifyMu sync.Mutex

	pollInterval   time.Duration
	redrawInterval time.Duration
	spinnerStyle   lipgloss.Style

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Broadcaster
type Option func(*Broadcaster)

// WithPollInterval sets how often the pause token is polled
func WithPollInterval(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithRedrawInterval sets the spinner cadence
func WithRedrawInterval(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.redrawInterval = d
		}
	}
}

// WithSpinnerStyle sets the lipgloss style of the spinner glyph
func WithSpinnerStyle(s lipgloss.Style) Option {
	return func(b *Broadcaster) {
		b.spinnerStyle = s
	}
}

// New creates a broadcaster that renders to out. Use io.Discard for headless turns.
func New(out io.Writer, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		out:            out,
		listeners:      make(map[int]Listener),
		pollInterval:   DefaultPollInterval,
		redrawInterval: DefaultRedrawInterval,
		spinnerStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the render loop. It runs until ctx is done or Stop is called.
// Calling Start on a running broadcaster is a no-op.
func (b *Broadcaster) Start(ctx context.Context) {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.loop(ctx, b.done)
}

// Stop ends the render loop, waits for it to exit and clears the line
func (b *Broadcaster) Stop() {
	b.runMu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	b.clear(false)
}

func (b *Broadcaster) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	var lastDraw time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			// copy the flag out; nothing is held while waiting
			if b.token.Paused() {
				continue
			}
			if now.Sub(lastDraw) < b.redrawInterval {
				continue
			}
			if b.render() {
				lastDraw = now
			}
		}
	}
}

// render draws one frame unless paused or idle
func (b *Broadcaster) render() bool {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	if b.token.Paused() {
		return false
	}

	// lock order is outMu then mu
	b.mu.Lock()
	active := b.activeTurns > 0
	ev := b.current
	started := b.turnStarted
	b.mu.Unlock()

	if !active || ev.Phase == PhaseNone {
		return false
	}

	frame := spinnerFrames[b.frame%len(spinnerFrames)]
	b.frame++
	elapsed := int(time.Since(started).Seconds())

	fmt.Fprintf(b.out, "%s%s %s %s (%ds)...", clearLine, b.spinnerStyle.Render(frame), ev.Phase.Emoji(), ev.Label, elapsed)
	b.lineDrawn = true
	return true
}

// clear wipes the rendered line. With force it writes the sequence even when
// nothing was drawn.
func (b *Broadcaster) clear(force bool) {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	if b.lineDrawn || force {
		io.WriteString(b.out, clearLine)
		b.lineDrawn = false
	}
}

// BeginTurn marks a turn as running; rendering is idle while no turn runs
func (b *Broadcaster) BeginTurn() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeTurns == 0 {
		b.turnStarted = time.Now()
		b.current = Event{}
	}
	b.activeTurns++
}

// EndTurn marks a turn as finished and clears the line once the last turn ends
func (b *Broadcaster) EndTurn() {
	b.mu.Lock()
	if b.activeTurns > 0 {
		b.activeTurns--
	}
	idle := b.activeTurns == 0
	if idle {
		b.current = Event{}
	}
	b.mu.Unlock()

	if idle {
		b.clear(false)
	}
}

// UpdatePhase replaces the visible phase and notifies listeners.
// An empty label uses the phase default. It never waits on rendering.
func (b *Broadcaster) UpdatePhase(phase Phase, label string) {
	if label == "" {
		label = phase.Label()
	}
	ev := Event{Phase: phase, StartedAt: time.Now(), Label: label}

	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	b.current = ev
	listeners := make([]Listener, 0, len(b.listeners))
	for id := 0; id < b.nextID; id++ {
		if l, ok := b.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Current returns the visible phase event
func (b *Broadcaster) Current() Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe registers l for every future phase event and returns its unsubscribe func
func (b *Broadcaster) Subscribe(l Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Pause suspends rendering and clears the line before returning,
// so the caller's next write starts on a clean line
func (b *Broadcaster) Pause() {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	b.token.set()
	io.WriteString(b.out, clearLine)
	b.lineDrawn = false
}

// Resume undoes one Pause
func (b *Broadcaster) Resume() {
	b.token.clear()
}

// Paused reports whether rendering is suspended
func (b *Broadcaster) Paused() bool {
	return b.token.Paused()
}
