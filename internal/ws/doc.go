// Package ws provides the realtime side of the board server: websocket
// connections, board rooms, presence sessions and event routing.
//
// The package implements:
//   - Rooms: the broadcast scope of every connection joined to one board
//   - Session: binds a connection to one board and a participant identity
//   - Router: fans events out to rooms, mirroring task and typing events to
//     everyone but the sender
//   - Server: a single event loop that applies every presence and room change
//   - Handler: upgrades HTTP requests and runs the read and write pumps
//
// Relayed event names are part of the wire contract. A task-moved frame is
// relayed as task-updated; task-created, task-updated and task-deleted are
// relayed as new-task, update-task and delete-task.
package ws
