// Package api is the REST client for the rooms server.
//
// Endpoints (relative to the configured base URL, typically http://host:8080/api):
//
//	POST   /login                      {username, password} -> {jwt}
//	GET    /me                         -> {user}
//	GET    /room/:id                   -> {message, room}
//	PATCH  /room/:id                   {name}
//	POST   /room/:id/todo              {title, order} -> {todo}
//	DELETE /room/:id/todo/:todoID
//	PATCH  /room/:id/todo/:todoID      {isCompleted}
//	PATCH  /room/:id/todos             {todos: [{id, order}]}
//	POST   /room/:id/user              {username}
//	DELETE /room/:id/user/remove       {username}
//	DELETE /room/:id/user/leave        {username}
//
// Every request carries the bearer token and runs inside an OpenTelemetry span
// taken from the global tracer provider.
package api
