package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/actuallyakshat/realtime-todos/internal/connection"
	"github.com/actuallyakshat/realtime-todos/internal/reconcile"
	"github.com/actuallyakshat/realtime-todos/internal/version"
)

func watchCmd(opts *options) *cobra.Command {
	var leaveOnExit bool

	cmd := &cobra.Command{
		Use:   "watch ROOM_ID",
		Short: "Follow a room and log every change",
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
			logger := newLogger(cfg.Log, os.Stdout)
			slog.SetDefault(logger)
			logger.Info("starting roomsync watch", version.LogAttrs()...)

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			w := newWatcher(logger, message.NewPrinter(language.English))
			a.engine.OnChange = w.change
			a.engine.OnStatus = w.status
			a.engine.OnLeaveRoom = func(id int64) { w.end("left room", id) }
			a.engine.OnRoomGone = func(id int64) { w.end("room deleted", id) }

			return a.run(ctx, func(ctx context.Context) error {
				s, err := a.engine.Enter(ctx, roomID)
				if err != nil {
					return err
				}

				select {
				case <-ctx.Done():
					logger.Info("shutting down")
					if leaveOnExit {
						if err := s.Leave(context.Background()); err != nil {
							logger.Warn("failed to leave room", "error", err)
						}
					}
				case <-w.done:
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&leaveOnExit, "leave-on-exit", false, "leave the room when interrupted")
	return cmd
}

func parseRoomID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid room id %q", raw)
	}
	return id, nil
}

// watcher logs engine callbacks. Its hooks run on the loop.
type watcher struct {
	logger  *slog.Logger
	printer *message.Printer

	last     reconcile.View
	done     chan struct{}
	doneOnce sync.Once
}

func newWatcher(logger *slog.Logger, printer *message.Printer) *watcher {
	return &watcher{
		logger:  logger,
		printer: printer,
		done:    make(chan struct{}),
	}
}

func (w *watcher) change(v reconcile.View) {
	if v.Terminated {
		return
	}
	prev := w.last
	w.last = v

	if prev.Name != "" && prev.Name != v.Name {
		w.logger.Info("room renamed", "from", prev.Name, "to", v.Name)
	}
	if prev.RoomID == v.RoomID && len(prev.Users) != len(v.Users) {
		w.logger.Info("members changed", "members", memberNames(v))
	}

	w.logger.Info("room updated",
		"room", v.Name,
		"members", len(v.Users),
		"todos", len(v.Todos),
		"progress", formatProgress(w.printer, v.Progress),
		"pending", v.Pending,
	)
	if w.logger.Enabled(context.Background(), slog.LevelDebug) {
		for _, u := range v.Users {
			for _, t := range v.TodosOf(u.ID) {
				w.logger.Debug("todo",
					"user", u.Username,
					"order", t.Order,
					"title", t.Title,
					"done", t.IsCompleted,
					"provisional", reconcile.Provisional(t),
				)
			}
		}
	}
}

func (w *watcher) status(st connection.Status) {
	attrs := []any{"state", st.State, "room_id", st.RoomID}
	if st.Attempts > 0 {
		attrs = append(attrs, "attempts", st.Attempts)
	}
	if st.LastError != "" {
		attrs = append(attrs, "last_error", st.LastError)
	}
	w.logger.Info("connection status", attrs...)
}

func (w *watcher) end(reason string, roomID int64) {
	w.logger.Info(reason, "room_id", roomID)
	w.doneOnce.Do(func() { close(w.done) })
}

func memberNames(v reconcile.View) []string {
	names := make([]string, 0, len(v.Users))
	for _, u := range v.Users {
		names = append(names, u.Username)
	}
	return names
}

// formatProgress renders a completion percentage for the printer's locale.
func formatProgress(p *message.Printer, pct float64) string {
	return p.Sprintf("%.1f%%", pct)
}
