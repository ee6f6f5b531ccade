package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Watch table messages
	MessageTypeWatchSnapshot MessageType = "watch_snapshot"
	MessageTypeWatchValue    MessageType = "watch_value"

	// Device session messages
	MessageTypeDeviceConnected    MessageType = "device_connected"
	MessageTypeDeviceDisconnected MessageType = "device_disconnected"
	MessageTypeMonitorState       MessageType = "monitor_state"

	// Project messages
	MessageTypeProjectChanged MessageType = "project_changed"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"

	// Connection handshake
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`

	// name scopes watch_value messages for subscription filtering
	name string
}

// ProjectChangedData tells clients to refetch the project.
type ProjectChangedData struct {
	Kind    string `json:"kind"`
	Project string `json:"project"`
	OldName string `json:"old_name,omitempty"`
	NewName string `json:"new_name,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewWatchValueMessage wraps one watch entry update; name is the entry name.
func NewWatchValueMessage(name string, entry any) Message {
	msg := NewMessage(MessageTypeWatchValue, entry)
	msg.name = name
	return msg
}

// inbound is what clients send: an auth handshake or a subscription change.
type inbound struct {
	Type  string   `json:"type"`
	Token string   `json:"token,omitempty"`
	Names []string `json:"names,omitempty"`
}
