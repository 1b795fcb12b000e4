// Package server is the HTTP/websocket edge: it upgrades client
// connections, pumps inbound protocol frames into the gateway hub, and
// exposes health, metrics and stats endpoints.
package server
