package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// EventKind classifies a line in the live view.
type EventKind int

const (
	EventInfo EventKind = iota
	EventJoin
	EventLeave
	EventSignal
	EventSuccess
	EventError
)

// Event is one line of relay activity.
type Event struct {
	At   time.Time
	Kind EventKind
	Text string
}

// maxEvents bounds the history kept on screen.
const maxEvents = 12

// EventView shows relay events live until the user quits or Stop is called.
type EventView struct {
	program *tea.Program
	model   *eventModel
	updates chan Event
	quit    chan struct{}
	wg      sync.WaitGroup
}

type eventModel struct {
	title    string
	state    string
	events   []Event
	spinner  spinner.Model
	updates  chan Event
	quitting bool
}

// NewEventView creates a view titled title.
func NewEventView(title string) *EventView {
	updates := make(chan Event, 64)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &EventView{
		model: &eventModel{
			title:   title,
			state:   "Listening for relay events...",
			spinner: s,
			updates: updates,
		},
		updates: updates,
		quit:    make(chan struct{}),
	}
}

// Start runs the view in a goroutine. Quit is closed when it exits.
func (v *EventView) Start() {
	v.program = tea.NewProgram(v.model)
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer close(v.quit)
		if _, err := v.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// Push adds an event. It never blocks; events are dropped if the view lags.
func (v *EventView) Push(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case v.updates <- e:
	default:
	}
}

// Quit is closed once the view has exited, including when the user pressed q.
func (v *EventView) Quit() <-chan struct{} {
	return v.quit
}

// Stop ends the view and waits for it to restore the terminal.
func (v *EventView) Stop() {
	if v.program != nil {
		v.program.Quit()
	}
	v.wg.Wait()
}

func (m *eventModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvents())
}

func (m *eventModel) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m *eventModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Event:
		m.events = append(m.events, msg)
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
		return m, m.listenForEvents()
	}

	return m, nil
}

func (m *eventModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n" + TitleStyle.Render(m.title) + "\n\n")
	b.WriteString(fmt.Sprintf("%s %s\n\n", m.spinner.View(), m.state))

	if len(m.events) == 0 {
		b.WriteString(MutedStyle.Render("  nothing yet") + "\n")
	}
	for _, e := range m.events {
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			MutedStyle.Render(e.At.Format("15:04:05")),
			eventIcon(e.Kind),
			eventStyle(e.Kind).Render(e.Text),
		))
	}

	b.WriteString("\n" + MutedStyle.Render("Press q to leave the room"))
	return b.String()
}

func eventIcon(k EventKind) string {
	switch k {
	case EventJoin:
		return IconPeer
	case EventLeave:
		return IconLeave
	case EventSignal:
		return IconSignal
	case EventSuccess:
		return IconSuccess
	case EventError:
		return IconError
	default:
		return IconInfo
	}
}

func eventStyle(k EventKind) lipgloss.Style {
	switch k {
	case EventSuccess:
		return SuccessStyle
	case EventError:
		return ErrorStyle
	case EventSignal:
		return MutedStyle
	default:
		return lipgloss.NewStyle()
	}
}
