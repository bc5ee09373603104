package event

type Type string

const (
	TypeSessionCreated  Type = "session.created"
	TypeSessionRotated  Type = "session.rotated"
	TypeSessionRevoked  Type = "session.revoked"
	TypeReplayDetected  Type = "session.replay_detected"
	TypeSessionsRevoked Type = "session.revoked_all"
	TypeIdentityClaimed Type = "identity.claimed"
	TypeLoginFailed     Type = "login.failed"
)

// Event is a security-relevant fact about an identity or session.
// Payload never carries raw secrets.
type Event struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp string            `json:"timestamp"`
	ActorID   string            `json:"actor_id,omitempty"` // user id the event concerns
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}
