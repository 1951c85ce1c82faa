package models

import "time"

type MessageType string

const (
	MessageSystem  MessageType = "system"
	MessageText    MessageType = "text"
	MessageApprove MessageType = "approve"
	MessageVeto    MessageType = "veto"
	MessageResult  MessageType = "result"
	MessageError   MessageType = "error"
)

// Orchestrator is the sender name used for facilitation messages.
const Orchestrator = "orchestrator"

// Message is one entry in a session log.
type Message struct {
	SessionID string         `json:"session_id"`
	From      string         `json:"from"`
	To        string         `json:"to,omitempty"`
	Type      MessageType    `json:"type"`
	Content   string         `json:"content"`
	PhaseID   string         `json:"phase_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
