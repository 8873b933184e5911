package flotilla

import "time"

const (
	// ComponentKey is the name of a component field in structured log output.
	ComponentKey = "component"

	// ComponentWeb is the http/websocket gateway serving live updates.
	ComponentWeb = "web"

	// ComponentAuthz is the permission resolver.
	ComponentAuthz = "authz"

	// ComponentUpdates is the update lifecycle service.
	ComponentUpdates = "updates"

	// ComponentEvents is the in-process update fanout.
	ComponentEvents = "events"

	// ComponentStorage is the mongo resource store.
	ComponentStorage = "storage"

	// DefaultTimeout sets read and write timeouts for gateway ops.
	DefaultTimeout time.Duration = 30 * time.Second
)

// WebsocketLoggedIn is the literal frame sent to a client once its
// login frame has been verified.
const WebsocketLoggedIn = "LOGGED_IN"

// Version is the semantic version of the flotilla server.
const Version = "0.9.3"
