package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/actuallyakshat/realtime-todos/internal/dispatch"
	"github.com/actuallyakshat/realtime-todos/internal/loop"
	"github.com/actuallyakshat/realtime-todos/internal/model"
)

// Store holds the local state of one room for one identity.
type Store struct {
	cfg      Config
	ctx      context.Context
	loop     *loop.Loop
	backend  Backend
	writes   Writes
	pending  Pending
	logger   *slog.Logger
	observer Observer

	name    string
	adminID int64
	users   []model.User
	todos   []model.Todo
	userID  int64

	// lastKnown is the latest server-acknowledged order per todo.
	lastKnown   map[int64]int
	provisional map[int64]string
	nextTemp    int64
	progress    float64

	loaded     bool
	terminated bool
	leftOnce   bool
	goneOnce   bool

	// OnChange is called after every local state change.
	OnChange func(View)
	// OnLeaveRoom is called once when the local identity is no longer a member.
	OnLeaveRoom func()
	// OnRoomGone is called once when the room is deleted.
	OnRoomGone func()
}

// New creates an empty Store. ctx bounds every request it makes.
func New(
	ctx context.Context,
	cfg Config,
	l *loop.Loop,
	backend Backend,
	writes Writes,
	pending Pending,
	logger *slog.Logger,
	observer Observer,
) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:         cfg,
		ctx:         ctx,
		loop:        l,
		backend:     backend,
		writes:      writes,
		pending:     pending,
		logger:      logger.With("room_id", cfg.RoomID),
		observer:    observer,
		lastKnown:   make(map[int64]int),
		provisional: make(map[int64]string),
	}
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// View returns a copy of the current state.
func (s *Store) View() View {
	v := View{
		RoomID:     s.cfg.RoomID,
		Name:       s.name,
		AdminID:    s.adminID,
		Users:      append([]model.User(nil), s.users...),
		Todos:      append([]model.Todo(nil), s.todos...),
		UserID:     s.userID,
		Progress:   s.progress,
		Terminated: s.terminated,
	}
	if s.pending != nil {
		v.Pending = s.pending.Value()
	}
	return v
}

// Progress returns the acting user's completion percentage.
func (s *Store) Progress() float64 {
	return s.progress
}

// Loaded reports whether a snapshot has been applied.
func (s *Store) Loaded() bool {
	return s.loaded
}

// Terminated reports whether the room ended for this client.
func (s *Store) Terminated() bool {
	return s.terminated
}

// -----------------------------------------------------------------------------
// Snapshot
// -----------------------------------------------------------------------------

// LoadSnapshot replaces members, todos and name with room.
func (s *Store) LoadSnapshot(room model.Room) error {
	if s.terminated {
		return ErrTerminated
	}
	if err := room.Validate(); err != nil {
		s.logger.Warn("snapshot failed validation", "error", err)
	}

	s.name = room.Name
	s.adminID = room.AdminID
	s.users = room.MembersOnly()
	s.replaceTodos(room)
	s.resolveUser(room)
	s.loaded = true

	s.logger.Debug("snapshot loaded",
		"users", len(s.users),
		"todos", len(s.todos),
		"user_id", s.userID,
	)
	s.changed()
	return nil
}

// -----------------------------------------------------------------------------
// Local Edits
// -----------------------------------------------------------------------------

// ApplyLocalAdd appends a provisional todo and requests its creation. The
// provisional todo is removed if creation fails and replaced by the server's
// todo when it succeeds.
func (s *Store) ApplyLocalAdd(title string) (model.Todo, error) {
	if err := s.writable(); err != nil {
		return model.Todo{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Todo{}, ErrEmptyTitle
	}

	s.nextTemp--
	temp := model.Todo{
		ID:     s.nextTemp,
		Title:  title,
		UserID: s.userID,
		RoomID: s.cfg.RoomID,
		Order:  len(model.OwnedBy(s.todos, s.userID)),
	}
	key := uuid.NewString()
	s.provisional[temp.ID] = key
	s.todos = append(s.todos, temp)
	s.changed()

	var created model.Todo
	s.request("create_todo", func(ctx context.Context) error {
		var err error
		created, err = s.backend.CreateTodo(ctx, s.cfg.RoomID, temp.Title, temp.Order, key)
		return err
	}, func(err error) {
		s.settleAdd(temp.ID, created, err)
	})

	return temp, nil
}

func (s *Store) settleAdd(tempID int64, created model.Todo, err error) {
	delete(s.provisional, tempID)
	idx := s.indexOf(tempID)

	if err != nil {
		s.logger.Warn("create todo failed, removing provisional todo", "temp_id", tempID, "error", err)
		if idx >= 0 {
			s.removeAt(idx)
			s.changed()
		}
		return
	}

	if idx < 0 {
		// A snapshot or broadcast already replaced local todos.
		return
	}
	if s.indexOf(created.ID) >= 0 {
		s.removeAt(idx)
	} else {
		s.todos[idx] = created
		s.lastKnown[created.ID] = created.Order
	}
	s.changed()
}

// ApplyLocalReorder sets order = position in ids for the acting user's
// todos. ids must list each of the user's todos exactly once. Other users'
// todos keep their place in the collection. Todos still awaiting creation
// stay after the acknowledged ones so the submitted orders run 0..k-1.
func (s *Store) ApplyLocalReorder(ids []int64) error {
	if err := s.writable(); err != nil {
		return err
	}

	var positions []int
	own := make(map[int64]model.Todo)
	for i, t := range s.todos {
		if t.UserID == s.userID {
			positions = append(positions, i)
			own[t.ID] = t
		}
	}
	if len(ids) != len(positions) {
		return ErrInvalidOrder
	}

	reordered := make([]model.Todo, 0, len(ids))
	var provisional []model.Todo
	for _, id := range ids {
		t, ok := own[id]
		if !ok {
			return ErrInvalidOrder
		}
		delete(own, id)
		if Provisional(t) {
			provisional = append(provisional, t)
			continue
		}
		reordered = append(reordered, t)
	}
	acked := len(reordered)
	reordered = append(reordered, provisional...)
	model.Reindex(reordered)

	updates := make([]model.OrderUpdate, 0, acked)
	for k, pos := range positions {
		s.todos[pos] = reordered[k]
		if k < acked {
			updates = append(updates, model.OrderUpdate{ID: reordered[k].ID, Order: reordered[k].Order})
		}
	}
	s.changed()

	s.writes.Reorder(s.userID, updates)
	return nil
}

// MoveTodo moves one of the acting user's todos to index to within the
// user's ordered list.
func (s *Store) MoveTodo(todoID int64, to int) error {
	if err := s.writable(); err != nil {
		return err
	}

	own := model.OwnedBy(s.todos, s.userID)
	model.SortByOrder(own)

	from := -1
	ids := make([]int64, 0, len(own))
	for i, t := range own {
		if t.ID == todoID {
			from = i
			continue
		}
		ids = append(ids, t.ID)
	}
	if from < 0 {
		return ErrUnknownTodo
	}
	if to < 0 {
		to = 0
	}
	if to > len(ids) {
		to = len(ids)
	}
	if to == from {
		return nil
	}

	ids = append(ids[:to], append([]int64{todoID}, ids[to:]...)...)
	return s.ApplyLocalReorder(ids)
}

// ApplyLocalToggle flips the completion flag of todoID.
func (s *Store) ApplyLocalToggle(todoID int64) error {
	if s.terminated {
		return ErrTerminated
	}
	idx := s.indexOf(todoID)
	if idx < 0 {
		return ErrUnknownTodo
	}
	if Provisional(s.todos[idx]) {
		return ErrProvisional
	}

	s.todos[idx].IsCompleted = !s.todos[idx].IsCompleted
	completed := s.todos[idx].IsCompleted
	s.changed()

	s.writes.Toggle(todoID, completed)
	return nil
}

// ApplyLocalDelete removes todoID and requests its deletion. A failed
// delete is logged and left as is until the next snapshot.
func (s *Store) ApplyLocalDelete(todoID int64) error {
	if s.terminated {
		return ErrTerminated
	}
	idx := s.indexOf(todoID)
	if idx < 0 {
		return ErrUnknownTodo
	}
	if Provisional(s.todos[idx]) {
		return ErrProvisional
	}

	s.removeAt(idx)
	delete(s.lastKnown, todoID)
	s.changed()

	s.request("delete_todo", func(ctx context.Context) error {
		return s.backend.DeleteTodo(ctx, s.cfg.RoomID, todoID)
	}, func(err error) {
		if err != nil {
			s.logger.Warn("delete todo failed", "todo_id", todoID, "error", err)
		}
	})
	return nil
}

// ApplyLocalRename sets the room name and requests the rename. The previous
// name is restored if the request fails and nothing renamed the room since.
func (s *Store) ApplyLocalRename(name string) error {
	if s.terminated {
		return ErrTerminated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	prev := s.name
	s.name = name
	s.changed()

	s.request("rename_room", func(ctx context.Context) error {
		return s.backend.UpdateRoomName(ctx, s.cfg.RoomID, name)
	}, func(err error) {
		if err == nil {
			return
		}
		s.logger.Warn("rename room failed", "name", name, "error", err)
		if s.name == name {
			s.name = prev
			s.changed()
		}
	})
	return nil
}

// ApplyLocalRemoveMember drops username from the member list and requests
// the removal. The member is restored if the request fails.
func (s *Store) ApplyLocalRemoveMember(username string) error {
	if s.terminated {
		return ErrTerminated
	}
	idx := -1
	for i, u := range s.users {
		if u.Username == username {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrUnknownMember
	}

	removed := s.users[idx]
	s.users = append(s.users[:idx:idx], s.users[idx+1:]...)
	s.changed()

	s.request("remove_member", func(ctx context.Context) error {
		return s.backend.RemoveMember(ctx, s.cfg.RoomID, username)
	}, func(err error) {
		if err == nil {
			return
		}
		s.logger.Warn("remove member failed", "username", username, "error", err)
		for _, u := range s.users {
			if u.ID == removed.ID {
				return
			}
		}
		s.users = append(s.users, removed)
		s.changed()
	})
	return nil
}

// ReorderSettled records the outcome of a reorder request. A failure rolls
// the user's todos back to the last server-acknowledged order unless a newer
// reorder for the user is still queued.
func (s *Store) ReorderSettled(userID int64, updates []model.OrderUpdate, err error) {
	if err == nil {
		for _, u := range updates {
			s.lastKnown[u.ID] = u.Order
		}
		return
	}
	if s.terminated {
		return
	}
	if s.writes.ReorderQueued(userID) {
		s.logger.Debug("reorder failed, newer reorder queued", "user_id", userID, "error", err)
		return
	}

	var positions []int
	var own []model.Todo
	for i, t := range s.todos {
		if t.UserID == userID {
			positions = append(positions, i)
			if o, ok := s.lastKnown[t.ID]; ok {
				t.Order = o
			} else {
				// Unacknowledged todos go last.
				t.Order = len(s.todos) + t.Order
			}
			own = append(own, t)
		}
	}
	model.SortByOrder(own)
	model.Reindex(own)
	for k, pos := range positions {
		s.todos[pos] = own[k]
	}

	s.logger.Info("reorder rolled back", "user_id", userID, "todos", len(own))
	s.changed()
}

// Leave terminates the store and signals OnLeaveRoom if it has not fired.
func (s *Store) Leave() {
	s.terminated = true
	s.signalLeave()
}

// -----------------------------------------------------------------------------
// Broadcasts
// -----------------------------------------------------------------------------

// ApplyBroadcast merges a server broadcast into local state.
func (s *Store) ApplyBroadcast(kind model.MessageType, payload json.RawMessage) error {
	if s.terminated {
		s.observe(kind, OutcomeIgnored)
		return nil
	}

	if kind == model.MsgRoomDeleted {
		s.terminated = true
		s.observe(kind, OutcomeApplied)
		s.logger.Info("room deleted")
		s.changed()
		s.signalGone()
		return nil
	}

	var room model.Room
	if err := json.Unmarshal(payload, &room); err != nil {
		s.observe(kind, OutcomeDecodeError)
		return fmt.Errorf("decode %s payload: %w", kind, err)
	}

	switch kind {
	case model.MsgTodosUpdated:
		if !s.pending.Idle() {
			s.logger.Debug("suppressing todos_updated while writes are pending", "pending", s.pending.Value())
			s.observe(kind, OutcomeSuppressed)
			return nil
		}
		s.replaceTodos(room)

	case model.MsgUserJoined:
		s.users = room.MembersOnly()
		s.replaceTodos(room)
		s.resolveUser(room)

	case model.MsgUserLeft:
		s.users = room.MembersOnly()
		if !s.present(room) {
			s.observe(kind, OutcomeApplied)
			s.logger.Info("local identity removed from room")
			s.terminated = true
			s.changed()
			s.signalLeave()
			return nil
		}

	case model.MsgRoomNameUpdated:
		s.name = room.Name

	default:
		s.observe(kind, OutcomeIgnored)
		return nil
	}

	s.observe(kind, OutcomeApplied)
	s.changed()
	return nil
}

// Attach subscribes the store to every broadcast kind on d. Releasing the
// returned scope detaches it.
func (s *Store) Attach(d *dispatch.Dispatcher) *dispatch.Scope {
	scope := dispatch.NewScope()
	for _, kind := range model.MessageTypes {
		scope.Subscribe(d, kind, func(msg dispatch.Message) {
			if err := s.ApplyBroadcast(msg.Type, msg.Payload); err != nil {
				s.logger.Warn("dropping broadcast", "type", msg.Type, "error", err)
			}
		})
	}
	return scope
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

func (s *Store) writable() error {
	if s.terminated {
		return ErrTerminated
	}
	if s.userID == 0 {
		return ErrUnknownIdentity
	}
	return nil
}

// replaceTodos takes every todo of this room from the payload, sorted by
// order, and records their orders as acknowledged.
func (s *Store) replaceTodos(room model.Room) {
	var todos []model.Todo
	for _, u := range room.Users {
		for _, t := range u.Todos {
			if t.RoomID == s.cfg.RoomID {
				todos = append(todos, t)
			}
		}
	}
	model.SortByOrder(todos)

	s.todos = todos
	s.lastKnown = make(map[int64]int, len(todos))
	for _, t := range todos {
		s.lastKnown[t.ID] = t.Order
	}
}

func (s *Store) resolveUser(room model.Room) {
	if u, ok := room.Member(s.cfg.Identity); ok {
		s.userID = u.ID
	}
}

// present reports whether the local identity is in room's member list.
func (s *Store) present(room model.Room) bool {
	for _, u := range room.Users {
		if (s.userID != 0 && u.ID == s.userID) || u.Username == s.cfg.Identity {
			return true
		}
	}
	return false
}

func (s *Store) indexOf(todoID int64) int {
	for i, t := range s.todos {
		if t.ID == todoID {
			return i
		}
	}
	return -1
}

func (s *Store) removeAt(idx int) {
	s.todos = append(s.todos[:idx:idx], s.todos[idx+1:]...)
}

// changed recomputes progress and notifies OnChange.
func (s *Store) changed() {
	var total, done int
	for _, t := range s.todos {
		if t.UserID != s.userID {
			continue
		}
		total++
		if t.IsCompleted {
			done++
		}
	}
	s.progress = 0
	if total > 0 {
		s.progress = float64(done) / float64(total) * 100
	}

	if s.OnChange != nil {
		s.OnChange(s.View())
	}
}

func (s *Store) signalLeave() {
	if s.leftOnce {
		return
	}
	s.leftOnce = true
	if s.OnLeaveRoom != nil {
		s.OnLeaveRoom()
	}
}

func (s *Store) signalGone() {
	if s.goneOnce {
		return
	}
	s.goneOnce = true
	if s.OnRoomGone != nil {
		s.OnRoomGone()
	}
}

func (s *Store) observe(kind model.MessageType, outcome string) {
	if s.observer != nil {
		s.observer.ObserveBroadcast(string(kind), outcome)
	}
}

// request runs do off the loop and posts done back to it.
func (s *Store) request(op string, do func(ctx context.Context) error, done func(err error)) {
	go func() {
		ctx := s.ctx
		if s.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer cancel()
		}
		err := do(ctx)
		if !s.loop.Post(func() { done(err) }) {
			s.logger.Debug("request settled after loop stopped", "op", op, "error", err)
		}
	}()
}
