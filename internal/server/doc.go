// Package server is the watch server: an HTTP surface over a running
// session controller so the process can be followed and driven from
// another device.
//
// # Endpoints
//
//   - POST /auth - Password authentication, returns a bearer token
//   - GET /state - Controller snapshot as JSON
//   - GET /stream - Server-Sent Events, catch-up from from_seq then live
//   - GET /ws - WebSocket, a snapshot event then every live event
//   - POST /control/{pause,resume,stop} - Drive the session
//   - GET / - Embedded dashboard page
//
// # Authentication
//
// Passwords are checked against an argon2id hash from the config and /auth
// is rate limited per IP. Tokens go in the Authorization header, or in a
// token query parameter for EventSource and WebSocket clients. With no
// password hash configured, authentication is off and the server only
// binds to loopback.
package server
