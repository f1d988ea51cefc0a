package api

import "github.com/actuallyakshat/realtime-todos/internal/model"

// RoomResponse from GET /room/:id
type RoomResponse struct {
	Message string     `json:"message"`
	Room    model.Room `json:"room"`
}

// TodoResponse from POST /room/:id/todo
type TodoResponse struct {
	Message string     `json:"message"`
	Todo    model.Todo `json:"todo"`
}

// LoginResponse from POST /login
type LoginResponse struct {
	Message string `json:"message"`
	JWT     string `json:"jwt"`
}

// UserResponse from GET /me and POST /room/:id/user
type UserResponse struct {
	Message string     `json:"message"`
	User    model.User `json:"user"`
}

type createTodoBody struct {
	Title string `json:"title"`
	Order int    `json:"order"`
}

type completionBody struct {
	IsCompleted bool `json:"isCompleted"`
}

type reorderBody struct {
	Todos []model.OrderUpdate `json:"todos"`
}

type usernameBody struct {
	Username string `json:"username"`
}

type nameBody struct {
	Name string `json:"name"`
}

type credentialsBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
