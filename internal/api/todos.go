package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/actuallyakshat/realtime-todos/internal/model"
)

// CreateTodo creates a todo for the caller. idempotencyKey is sent as the
// Idempotency-Key header so a retried create is applied at most once.
func (c *Client) CreateTodo(ctx context.Context, roomID int64, title string, order int, idempotencyKey string) (model.Todo, error) {
	var header http.Header
	if idempotencyKey != "" {
		header = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}

	var resp TodoResponse
	err := c.call(ctx, request{
		op:     "CreateTodo",
		method: http.MethodPost,
		path:   roomPath(roomID) + "/todo",
		body:   createTodoBody{Title: title, Order: order},
		header: header,
	}, &resp)
	if err != nil {
		return model.Todo{}, fmt.Errorf("create todo in room %d: %w", roomID, err)
	}
	return resp.Todo, nil
}

// DeleteTodo deletes a todo.
func (c *Client) DeleteTodo(ctx context.Context, roomID, todoID int64) error {
	err := c.call(ctx, request{
		op:     "DeleteTodo",
		method: http.MethodDelete,
		path:   fmt.Sprintf("%s/todo/%d", roomPath(roomID), todoID),
	}, nil)
	if err != nil {
		return fmt.Errorf("delete todo %d: %w", todoID, err)
	}
	return nil
}

// PatchTodoCompletion sets the completion flag of a todo.
func (c *Client) PatchTodoCompletion(ctx context.Context, roomID, todoID int64, completed bool) error {
	err := c.call(ctx, request{
		op:     "PatchTodoCompletion",
		method: http.MethodPatch,
		path:   fmt.Sprintf("%s/todo/%d", roomPath(roomID), todoID),
		body:   completionBody{IsCompleted: completed},
	}, nil)
	if err != nil {
		return fmt.Errorf("patch todo %d: %w", todoID, err)
	}
	return nil
}

// PatchTodoOrder writes a full ordering of one user's todos.
func (c *Client) PatchTodoOrder(ctx context.Context, roomID int64, updates []model.OrderUpdate) error {
	if updates == nil {
		updates = []model.OrderUpdate{}
	}
	err := c.call(ctx, request{
		op:     "PatchTodoOrder",
		method: http.MethodPatch,
		path:   roomPath(roomID) + "/todos",
		body:   reorderBody{Todos: updates},
	}, nil)
	if err != nil {
		return fmt.Errorf("reorder todos in room %d: %w", roomID, err)
	}
	return nil
}
