package domain

import "time"

// Conversation is the durable record of a one-to-one chat. The initiator and
// recipient roles exist for audit and read-cursor storage only; membership is
// an unordered-pair question. At most one non-anonymous conversation may exist
// per pair of users; anonymous ones (created by matchmaking) may repeat.
type Conversation struct {
	ID                string     `bson:"_id" json:"id"`
	InitiatorID       string     `bson:"initiator_id" json:"initiatorId"`
	RecipientID       string     `bson:"recipient_id" json:"recipientId"`
	Anonymous         bool       `bson:"anonymous" json:"anonymous"`
	Messages          []Message  `bson:"messages" json:"messages"`
	InitiatorLastRead *time.Time `bson:"initiator_last_read,omitempty" json:"initiatorLastRead,omitempty"`
	RecipientLastRead *time.Time `bson:"recipient_last_read,omitempty" json:"recipientLastRead,omitempty"`
	LastUpdated       time.Time  `bson:"last_updated" json:"lastUpdated"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	return c.InitiatorID == userID || c.RecipientID == userID
}

// PeerOf returns the other participant, or "" when userID is not a member.
func (c *Conversation) PeerOf(userID string) string {
	switch userID {
	case c.InitiatorID:
		return c.RecipientID
	case c.RecipientID:
		return c.InitiatorID
	}
	return ""
}
