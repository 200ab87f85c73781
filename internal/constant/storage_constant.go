package constant

const (
	// SessionStorageKey holds the server-issued session id in tab-scoped
	// storage.
	SessionStorageKey = "cicero_session_id"

	// AuthTokenStorageKey holds the long-lived bearer token in persistent
	// storage. Written by the login flow, read on every (re)connect.
	AuthTokenStorageKey = "authToken"
)
