package domain

import "time"

type MessageKind string

const (
	KindText         MessageKind = "text"
	KindImage        MessageKind = "image"
	KindDisappearing MessageKind = "disappearing"
)

// Message is immutable once appended, except Viewed which transitions
// false -> true exactly once (disappearing images only).
type Message struct {
	ID          string      `bson:"_id" json:"id"`
	Timestamp   time.Time   `bson:"timestamp" json:"timestamp"`
	Kind        MessageKind `bson:"kind" json:"kind"`
	SenderID    string      `bson:"sender_id" json:"senderId"`
	RecipientID string      `bson:"recipient_id" json:"recipientId"`
	Content     string      `bson:"content" json:"content"`
	Viewed      bool        `bson:"viewed,omitempty" json:"viewed,omitempty"`
}
