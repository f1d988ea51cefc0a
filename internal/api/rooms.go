package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/actuallyakshat/realtime-todos/internal/model"
)

func roomPath(roomID int64) string {
	return fmt.Sprintf("/room/%d", roomID)
}

// GetRoom fetches the room snapshot with members and their todos.
func (c *Client) GetRoom(ctx context.Context, roomID int64) (model.Room, error) {
	var resp RoomResponse
	err := c.call(ctx, request{
		op:     "GetRoom",
		method: http.MethodGet,
		path:   roomPath(roomID),
	}, &resp)
	if err != nil {
		return model.Room{}, fmt.Errorf("get room %d: %w", roomID, err)
	}
	return resp.Room, nil
}

// UpdateRoomName renames the room.
func (c *Client) UpdateRoomName(ctx context.Context, roomID int64, name string) error {
	err := c.call(ctx, request{
		op:     "UpdateRoomName",
		method: http.MethodPatch,
		path:   roomPath(roomID),
		body:   nameBody{Name: name},
	}, nil)
	if err != nil {
		return fmt.Errorf("rename room %d: %w", roomID, err)
	}
	return nil
}

// AddMember adds username to the room and returns the added user.
func (c *Client) AddMember(ctx context.Context, roomID int64, username string) (model.User, error) {
	var resp UserResponse
	err := c.call(ctx, request{
		op:     "AddMember",
		method: http.MethodPost,
		path:   roomPath(roomID) + "/user",
		body:   usernameBody{Username: username},
	}, &resp)
	if err != nil {
		return model.User{}, fmt.Errorf("add member %q to room %d: %w", username, roomID, err)
	}
	return resp.User, nil
}

// RemoveMember removes username from the room. Only the admin may do this.
func (c *Client) RemoveMember(ctx context.Context, roomID int64, username string) error {
	err := c.call(ctx, request{
		op:     "RemoveMember",
		method: http.MethodDelete,
		path:   roomPath(roomID) + "/user/remove",
		body:   usernameBody{Username: username},
	}, nil)
	if err != nil {
		return fmt.Errorf("remove member %q from room %d: %w", username, roomID, err)
	}
	return nil
}

// LeaveRoom removes username, normally the caller, from the room.
func (c *Client) LeaveRoom(ctx context.Context, roomID int64, username string) error {
	err := c.call(ctx, request{
		op:     "LeaveRoom",
		method: http.MethodDelete,
		path:   roomPath(roomID) + "/user/leave",
		body:   usernameBody{Username: username},
	}, nil)
	if err != nil {
		return fmt.Errorf("leave room %d: %w", roomID, err)
	}
	return nil
}
