package session

import (
	"encoding/json"
	"time"
)

// Message defines the websocket message format
type Message struct {
	Sender     string      `json:"-"`
	ReceivedAt time.Time   `json:"-"`
	Type       MessageType `json:"type"`
	Payload    interface{} `json:"payload"`
}

type receivedMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type HelloMessage struct {
	ClientType string `json:"authority"`
}

type PingMessage struct {
	Timestamp float64 `json:"sendtime"`
}

type PongMessage struct {
	Timestamp float64 `json:"sendtime"`
	SvcTime   float64 `json:"servicetime"`
}

// ReplayStateMessage is the periodic state broadcast to every client.
type ReplayStateMessage struct {
	Status          string `json:"status"`
	GpsTimeMs       int64  `json:"gpsTime"`
	VideoPositionMs int64  `json:"videoPosition"`
	ElapsedMs       int64  `json:"elapsed"`
	TimelineStartMs int64  `json:"timelineStart"`
	TimelineEndMs   int64  `json:"timelineEnd"`
	VideoDurationMs int64  `json:"videoDuration"`
	GpsCompleted    bool   `json:"gpsCompleted"`
	VideoCompleted  bool   `json:"videoCompleted"`
}

// ControlMessage carries a transport control action from a master
// client: play, pause, resume or stop.
type ControlMessage struct {
	Action string `json:"action"`
}

// SeekMessage carries a scrub request from a master client. Preview
// seeks reposition without touching playback state; committed seeks go
// through the full seek path.
type SeekMessage struct {
	GpsTimeMs   int64 `json:"gpsTime"`
	VideoTimeMs int64 `json:"videoTime"`
	Resume      bool  `json:"resume"`
	Preview     bool  `json:"preview"`
}

type ReservedMessage json.RawMessage

// MessageType is type of message
type MessageType int

// MessageType instances
const (
	MessageTypeHello MessageType = iota
	MessageTypePing
	MessageTypePong
	MessageTypeStateBroadcast
	MessageTypeControl
	MessageTypeSeek
	MessageTypeReserved MessageType = 99
)

// Control actions accepted in a ControlMessage
const (
	ActionPlay   = "play"
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionStop   = "stop"
)

// Serialise a Message to its wire format as []byte
func (m *Message) Serialise() ([]byte, error) {
	return json.Marshal(m)
}

// Deserialise a Message stored in data in its wire format back to a struct
// and store it to the value pointed to by m
func Deserialise(data []byte, m *Message) error {
	var rm receivedMessage

	err := json.Unmarshal(data, &rm)
	if err != nil {
		return err
	}

	m.ReceivedAt = time.Now()
	m.Type = rm.Type

	switch m.Type {
	case MessageTypeHello:
		var p HelloMessage
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypePing:
		var p PingMessage
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypePong:
		var p PongMessage
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeStateBroadcast:
		var p ReplayStateMessage
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeControl:
		var p ControlMessage
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeSeek:
		var p SeekMessage
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeReserved:
		m.Payload = rm.Payload
	}
	if err != nil {
		return err
	}
	return nil
}
