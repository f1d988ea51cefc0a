package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/actuallyakshat/realtime-todos/internal/connection"
	"github.com/actuallyakshat/realtime-todos/internal/model"
	"github.com/actuallyakshat/realtime-todos/internal/reconcile"
	"github.com/actuallyakshat/realtime-todos/internal/session"
)

func tuiCmd(opts *options) *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "tui ROOM_ID",
		Short: "Open a room in an interactive terminal UI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := parseRoomID(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			// The alternate screen owns stdout.
			var out io.Writer = io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer f.Close()
				out = f
			}
			logger := newLogger(cfg.Log, out)

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}

			return a.run(cmd.Context(), func(ctx context.Context) error {
				m := newTUIModel(a.engine, roomID, message.NewPrinter(language.English))
				p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

				// Hooks run on the loop; p.Send returns once the program has
				// stopped, so they cannot wedge it.
				a.engine.OnChange = func(v reconcile.View) { p.Send(viewMsg(v)) }
				a.engine.OnStatus = func(st connection.Status) { p.Send(statusMsg(st)) }
				a.engine.OnLeaveRoom = func(int64) { p.Send(endedMsg("You left the room.")) }
				a.engine.OnRoomGone = func(int64) { p.Send(endedMsg("The room was deleted.")) }

				final, err := p.Run()
				if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
					return err
				}
				if fm, ok := final.(tuiModel); ok && fm.ended != "" {
					fmt.Println(fm.ended)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file (discarded when empty)")
	return cmd
}

// Messages delivered to the TUI.
type (
	viewMsg    reconcile.View
	statusMsg  connection.Status
	endedMsg   string
	enteredMsg struct {
		session *session.Session
		err     error
	}
	errMsg struct{ err error }
)

// inputMode is what the text input is collecting.
type inputMode int

const (
	inputNone inputMode = iota
	inputAdd
	inputRename
	inputAddMember
)

// todoItem adapts a todo to bubbles/list.
type todoItem struct {
	todo model.Todo
}

func (i todoItem) Title() string       { return i.todo.Title }
func (i todoItem) Description() string { return "" }
func (i todoItem) FilterValue() string { return i.todo.Title }

// todoDelegate renders one todo per line.
type todoDelegate struct{}

func (d todoDelegate) Height() int                         { return 1 }
func (d todoDelegate) Spacing() int                        { return 0 }
func (d todoDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }
func (d todoDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(todoItem)
	if !ok {
		return
	}

	box := mutedStyle.Render(boxUnchecked)
	text := it.todo.Title
	if it.todo.IsCompleted {
		box = successStyle.Render(boxChecked)
		text = doneStyle.Render(text)
	}
	if reconcile.Provisional(it.todo) {
		text += " " + pendingStyle.Render("(saving)")
	}

	prefix := "  "
	if index == m.Index() {
		prefix = selectedStyle.Render("> ")
	}
	fmt.Fprintln(w, prefix+box+" "+text)
}

type keyMap struct {
	toggle    key.Binding
	add       key.Binding
	del       key.Binding
	up        key.Binding
	down      key.Binding
	rename    key.Binding
	addMember key.Binding
	leave     key.Binding
	quit      key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		toggle:    key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle")),
		add:       key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
		del:       key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
		up:        key.NewBinding(key.WithKeys("K", "shift+up"), key.WithHelp("K", "move up")),
		down:      key.NewBinding(key.WithKeys("J", "shift+down"), key.WithHelp("J", "move down")),
		rename:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "rename room")),
		addMember: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "add member")),
		leave:     key.NewBinding(key.WithKeys("L"), key.WithHelp("L", "leave")),
		quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type tuiModel struct {
	engine  *session.Engine
	roomID  int64
	printer *message.Printer
	keys    keyMap

	session *session.Session
	view    reconcile.View
	status  connection.Status

	list  list.Model
	input textinput.Model
	mode  inputMode

	err   string
	ended string
}

func newTUIModel(engine *session.Engine, roomID int64, printer *message.Printer) tuiModel {
	keys := newKeyMap()

	l := list.New(nil, todoDelegate{}, 0, 0)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.Styles.HelpStyle = helpStyle
	l.Styles.PaginationStyle = helpStyle
	extra := func() []key.Binding {
		return []key.Binding{keys.toggle, keys.add, keys.del, keys.up, keys.down, keys.rename, keys.addMember, keys.leave}
	}
	l.AdditionalShortHelpKeys = extra
	l.AdditionalFullHelpKeys = extra

	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 200

	return tuiModel{
		engine:  engine,
		roomID:  roomID,
		printer: printer,
		keys:    keys,
		list:    l,
		input:   ti,
	}
}

func (m tuiModel) Init() tea.Cmd {
	engine, roomID := m.engine, m.roomID
	return func() tea.Msg {
		s, err := engine.Enter(context.Background(), roomID)
		return enteredMsg{session: s, err: err}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case enteredMsg:
		if msg.err != nil {
			m.ended = "Could not open room: " + msg.err.Error()
			return m, tea.Quit
		}
		m.session = msg.session
		return m, nil

	case viewMsg:
		m.setView(reconcile.View(msg))
		return m, nil

	case statusMsg:
		m.status = connection.Status(msg)
		return m, nil

	case endedMsg:
		m.ended = string(msg)
		return m, tea.Quit

	case errMsg:
		m.err = msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m tuiModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.quit) {
		return m, tea.Quit
	}
	if m.session == nil {
		return m, nil
	}
	m.err = ""
	s := m.session

	switch {
	case key.Matches(msg, m.keys.toggle):
		if t, ok := m.selected(); ok {
			return m, m.do(func() error { return s.Toggle(t.ID) })
		}
		return m, nil

	case key.Matches(msg, m.keys.del):
		if t, ok := m.selected(); ok {
			return m, m.do(func() error { return s.Delete(t.ID) })
		}
		return m, nil

	case key.Matches(msg, m.keys.up), key.Matches(msg, m.keys.down):
		t, ok := m.selected()
		if !ok {
			return m, nil
		}
		to := m.list.Index() - 1
		if key.Matches(msg, m.keys.down) {
			to = m.list.Index() + 1
		}
		if to < 0 || to >= len(m.list.Items()) {
			return m, nil
		}
		m.list.Select(to)
		return m, m.do(func() error { return s.Move(t.ID, to) })

	case key.Matches(msg, m.keys.add):
		return m.startInput(inputAdd, "New todo...", "")

	case key.Matches(msg, m.keys.rename):
		return m.startInput(inputRename, "Room name...", m.view.Name)

	case key.Matches(msg, m.keys.addMember):
		return m.startInput(inputAddMember, "Username...", "")

	case key.Matches(msg, m.keys.leave):
		return m, m.do(func() error { return s.Leave(context.Background()) })
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m tuiModel) startInput(mode inputMode, placeholder, value string) (tea.Model, tea.Cmd) {
	m.mode = mode
	m.input.Placeholder = placeholder
	m.input.SetValue(value)
	m.input.CursorEnd()
	return m, m.input.Focus()
}

func (m tuiModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = inputNone
		m.input.Blur()
		return m, nil

	case "enter":
		value := strings.TrimSpace(m.input.Value())
		if value == "" {
			m.err = "Value cannot be empty"
			return m, nil
		}
		mode := m.mode
		m.mode = inputNone
		m.input.Blur()
		m.input.SetValue("")

		s := m.session
		switch mode {
		case inputAdd:
			return m, m.do(func() error {
				_, err := s.Add(value)
				return err
			})
		case inputRename:
			return m, m.do(func() error { return s.Rename(value) })
		case inputAddMember:
			return m, m.do(func() error {
				_, err := s.AddMember(context.Background(), value)
				return err
			})
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// do runs a session call off the program's goroutine.
func (m tuiModel) do(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m tuiModel) selected() (model.Todo, bool) {
	it, ok := m.list.SelectedItem().(todoItem)
	if !ok {
		return model.Todo{}, false
	}
	return it.todo, true
}

func (m *tuiModel) setView(v reconcile.View) {
	m.view = v

	own := v.TodosOf(v.UserID)
	items := make([]list.Item, 0, len(own))
	for _, t := range own {
		items = append(items, todoItem{todo: t})
	}
	idx := m.list.Index()
	m.list.SetItems(items)
	if idx >= len(items) {
		idx = len(items) - 1
	}
	if idx >= 0 {
		m.list.Select(idx)
	}
}

func (m tuiModel) View() string {
	if m.session == nil {
		return panelStyle.Render(mutedStyle.Render(fmt.Sprintf("Opening room %d...", m.roomID)))
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(m.members())
	b.WriteString("\n\n")
	b.WriteString(m.list.View())

	if m.mode != inputNone {
		title := map[inputMode]string{
			inputAdd:       "Add todo",
			inputRename:    "Rename room",
			inputAddMember: "Add member",
		}[m.mode]
		b.WriteString("\n")
		b.WriteString(panelStyle.Render(title + "\n" + m.input.View()))
	}
	if m.err != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.err))
	}
	return panelStyle.Render(b.String())
}

func (m tuiModel) header() string {
	st := m.status.State
	if st == "" {
		st = connection.StateConnecting
	}
	badge := stateStyle(st == connection.StateOpen,
		st == connection.StateConnecting || st == connection.StateReconnecting).Render(string(st))

	parts := []string{
		titleStyle.Render(m.view.Name),
		badge,
		successStyle.Render("✔") + " " + formatProgress(m.printer, m.view.Progress),
	}
	if m.view.Pending > 0 {
		parts = append(parts, pendingStyle.Render(m.printer.Sprintf("%d saving", m.view.Pending)))
	}
	if m.view.IsAdmin() {
		parts = append(parts, accentStyle.Render("admin"))
	}
	if m.status.LastError != "" && st != connection.StateOpen {
		parts = append(parts, errorStyle.Render(m.status.LastError))
	}
	return strings.Join(parts, "   ")
}

func (m tuiModel) members() string {
	var names []string
	for _, u := range m.view.Users {
		todos := m.view.TodosOf(u.ID)
		done := 0
		for _, t := range todos {
			if t.IsCompleted {
				done++
			}
		}
		label := m.printer.Sprintf("%s %d/%d", u.Username, done, len(todos))
		if u.ID == m.view.UserID {
			label = accentStyle.Render(label)
		} else {
			label = mutedStyle.Render(label)
		}
		names = append(names, label)
	}
	return strings.Join(names, "  ")
}
