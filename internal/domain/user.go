package domain

import "time"

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// User is owned by the identity service; this service only ever flips the
// online/last_online fields.
type User struct {
	ID         string     `bson:"_id" json:"id"`
	Username   string     `bson:"username" json:"username"`
	Email      string     `bson:"email" json:"email,omitempty"`
	Gender     Gender     `bson:"gender,omitempty" json:"gender,omitempty"`
	Online     bool       `bson:"online" json:"online"`
	LastOnline *time.Time `bson:"last_online,omitempty" json:"last_online,omitempty"`
}
