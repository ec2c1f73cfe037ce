// Package common contains shared constants and sentinel errors used across
// NoteKeeper components.
package common

// AuthorizationHeaderName is the HTTP header used to carry the bearer
// access token on outbound requests.
const AuthorizationHeaderName = "Authorization"

// ConnectionIDHeaderName is the HTTP header a client sets on write requests
// so the server can skip echoing resulting realtime events back to the
// originating websocket connection.
const ConnectionIDHeaderName = "X-Connection-Id"
