package domain

// ContactStatus is the server-side state of a contact relation.
type ContactStatus string

const (
	ContactNone      ContactStatus = "None"
	ContactRequested ContactStatus = "Requested"
	ContactAccepted  ContactStatus = "Accepted"
	ContactIgnored   ContactStatus = "Ignored"
	ContactBlocked   ContactStatus = "Blocked"
)

// Contact is a remote contact record. The record lives on the platform
// server; the bot only reads it and rewrites the status field.
type Contact struct {
	ID       string        `json:"id"`
	OwnerID  string        `json:"ownerId,omitempty"`
	Username string        `json:"contactUsername,omitempty"`
	Status   ContactStatus `json:"contactStatus"`
}

// User is the public profile returned by a user lookup.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
