package directory

import "context"

// Client is a firm client as seen by the notification engine.
type Client struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	AssignedUserID string `json:"assignedUserId,omitempty"`
}

// Audit is one yearly engagement for a client.
type Audit struct {
	ID              string   `json:"id"`
	Year            int      `json:"year"`
	ClientID        string   `json:"clientId"`
	ClientName      string   `json:"clientName"`
	Stage           string   `json:"stage,omitempty"`
	Status          string   `json:"status,omitempty"`
	AssignedUserIDs []string `json:"assignedUserIds"`
}

// User is a portal user.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// DisplayName falls back to the email when the name is blank.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Directory looks up entities by id.
type Directory interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
	GetAudit(ctx context.Context, auditID string) (*Audit, error)
	GetUser(ctx context.Context, userID string) (*User, error)
}
