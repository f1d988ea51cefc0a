// Package connection implements the Transport Manager.
//
// A Manager holds at most one live websocket connection per identity:
//   - dials <ws_url>/ws/<room>?username=<identity> with a connect timeout
//   - closes the previous room with "Switching rooms" before switching
//   - reconnects after unexpected closes with a fixed delay, up to a ceiling
//   - gives every physical connection its own dispatcher, closed on replacement
//
// All Manager state lives on a loop.Loop; dialing and reading happen in
// goroutines that post their results back.
package connection
