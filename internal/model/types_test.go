package model

import (
	"encoding/json"
	"errors"
	"testing"
)

const snapshotJSON = `{
	"ID": 7,
	"name": "groceries",
	"adminId": 1,
	"users": [
		{"ID": 1, "username": "ana", "todos": [
			{"ID": 10, "title": "milk", "isCompleted": false, "userId": 1, "roomId": 7, "order": 1},
			{"ID": 11, "title": "eggs", "isCompleted": true, "userId": 1, "roomId": 7, "order": 0},
			{"ID": 12, "title": "other room", "isCompleted": false, "userId": 1, "roomId": 8, "order": 0}
		]},
		{"ID": 2, "username": "bo", "todos": []}
	]
}`

func TestRoomDecode(t *testing.T) {
	var r Room
	if err := json.Unmarshal([]byte(snapshotJSON), &r); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if r.ID != 7 || r.Name != "groceries" || r.AdminID != 1 {
		t.Errorf("room = %+v", r)
	}
	if len(r.Users) != 2 {
		t.Fatalf("len(Users) = %d, want 2", len(r.Users))
	}
	if got := r.Users[0].Todos[1]; got.Title != "eggs" || !got.IsCompleted || got.Order != 0 {
		t.Errorf("todo = %+v", got)
	}
}

func TestRoomFlattenTodos(t *testing.T) {
	var r Room
	if err := json.Unmarshal([]byte(snapshotJSON), &r); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	todos := r.FlattenTodos()
	if len(todos) != 2 {
		t.Fatalf("len(todos) = %d, want 2 (foreign room filtered)", len(todos))
	}
	for _, td := range todos {
		if td.RoomID != 7 {
			t.Errorf("todo %d has RoomID %d", td.ID, td.RoomID)
		}
	}
}

func TestRoomValidate(t *testing.T) {
	tests := []struct {
		name    string
		room    Room
		wantErr bool
	}{
		{"admin is member", Room{ID: 1, AdminID: 1, Users: []User{{ID: 1}, {ID: 2}}}, false},
		{"admin missing", Room{ID: 1, AdminID: 3, Users: []User{{ID: 1}}}, true},
		{"no members", Room{ID: 1, AdminID: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.room.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrAdminNotMember) {
				t.Errorf("error %v is not ErrAdminNotMember", err)
			}
		})
	}
}

func TestRoomMember(t *testing.T) {
	r := Room{Users: []User{{ID: 1, Username: "ana"}, {ID: 2, Username: "bo"}}}

	if u, ok := r.Member("bo"); !ok || u.ID != 2 {
		t.Errorf("Member(bo) = %+v, %v", u, ok)
	}
	if _, ok := r.Member("cy"); ok {
		t.Error("Member(cy) should not be found")
	}
	if !r.HasMember(1) || r.HasMember(3) {
		t.Error("HasMember mismatch")
	}
	if members := r.MembersOnly(); len(members) != 2 || members[0].Todos != nil {
		t.Errorf("MembersOnly = %+v", members)
	}
}

func TestSortByOrderStable(t *testing.T) {
	todos := []Todo{
		{ID: 1, Order: 2},
		{ID: 2, Order: 0},
		{ID: 3, Order: 1},
		{ID: 4, Order: 0},
	}
	SortByOrder(todos)

	want := []int64{2, 4, 3, 1}
	for i, id := range want {
		if todos[i].ID != id {
			t.Errorf("todos[%d].ID = %d, want %d", i, todos[i].ID, id)
		}
	}
}

func TestIsDense(t *testing.T) {
	tests := []struct {
		name   string
		orders []int
		want   bool
	}{
		{"empty", nil, true},
		{"dense", []int{2, 0, 1}, true},
		{"gap", []int{0, 2}, false},
		{"duplicate", []int{0, 0}, false},
		{"negative", []int{-1, 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			todos := make([]Todo, len(tt.orders))
			for i, o := range tt.orders {
				todos[i].Order = o
			}
			if got := IsDense(todos); got != tt.want {
				t.Errorf("IsDense(%v) = %v, want %v", tt.orders, got, tt.want)
			}
		})
	}
}

func TestReindexAndOwnedBy(t *testing.T) {
	todos := []Todo{
		{ID: 1, UserID: 1, Order: 5},
		{ID: 2, UserID: 2, Order: 9},
		{ID: 3, UserID: 1, Order: 7},
	}

	mine := OwnedBy(todos, 1)
	if len(mine) != 2 || mine[0].ID != 1 || mine[1].ID != 3 {
		t.Fatalf("OwnedBy = %+v", mine)
	}

	Reindex(mine)
	if !IsDense(mine) {
		t.Errorf("Reindex result not dense: %+v", mine)
	}
}

func TestMessageTypeKnown(t *testing.T) {
	for _, k := range MessageTypes {
		if !k.Known() {
			t.Errorf("%q should be known", k)
		}
	}
	if MessageType("ping").Known() {
		t.Error("ping should not be known")
	}
}
