package tui

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"ingresso-cascade-cli/cascade"
)

// dispatchMsg carries a controller completion into Update, which makes the
// bubbletea event loop the controller's owner goroutine.
type dispatchMsg struct {
	fn func()
}

// Bridge is the cascade.Dispatcher and cascade.Observer for a controller
// driven by the TUI. Create it before the controller, then call SetProgram
// before running the program. Functions dispatched while no program is set
// are dropped.
type Bridge struct {
	program atomic.Pointer[tea.Program]

	// events is only touched from Update.
	events []cascade.Event
}

func NewBridge() *Bridge {
	return &Bridge{}
}

// SetProgram sets the program that receives dispatched completions. Safe to
// call from any goroutine.
func (b *Bridge) SetProgram(program *tea.Program) {
	b.program.Store(program)
}

// Dispatch implements cascade.Dispatcher. It blocks until the program
// accepts the message or has exited.
func (b *Bridge) Dispatch(fn func()) {
	program := b.program.Load()
	if program == nil {
		return
	}
	program.Send(dispatchMsg{fn: fn})
}

// Observe implements cascade.Observer. The controller only emits while
// Update is calling it, so events are buffered and drained afterwards.
func (b *Bridge) Observe(event cascade.Event) {
	b.events = append(b.events, event)
}

func (b *Bridge) drain() []cascade.Event {
	events := b.events
	b.events = nil
	return events
}
