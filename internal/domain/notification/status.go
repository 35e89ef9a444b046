// internal/domain/notification/status.go
package notification

import "time"

// Record is the canonical in-app notification as held by the client.
type Record struct {
	ID        int64 // Issued by the server, immutable
	Category  Category
	Priority  Priority
	Title     string
	Message   string
	IsRead    bool // Only ever flips false -> true on the client
	CreatedAt time.Time
	ActionURL string // Optional client route
	ActorName string // Optional
}

// Page is one slice of the server-side notification list.
type Page struct {
	Records []Record
	HasMore bool
	Cursor  string // Opaque cursor for the next page, empty when HasMore is false
}

// Preference holds the per-category delivery flags kept by the backend.
type Preference struct {
	Category       Category
	IsEnabled      bool
	IsSSEEnabled   bool
	IsEmailEnabled bool
}

// ConnectionStatus is the state of the live notification stream.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)
