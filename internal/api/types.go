package api

import (
	"fmt"
	"strings"
	"time"
)

// User is the profile returned alongside an access token.
type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// TokenResponse is the response of the register and login endpoints.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

// ChatSession is a titled conversation thread owned by one user.
// The server returns sessions most-recently-updated first; the client
// preserves that order verbatim.
type ChatSession struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Title     string `json:"title"`
	CreatedAt Time   `json:"created_at"`
	UpdatedAt Time   `json:"updated_at"`
}

// Message is one turn in a session. Immutable once created; ordered by
// creation time within its session.
type Message struct {
	ID        int64  `json:"id"`
	SessionID int64  `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	ImagePath string `json:"image_path,omitempty"`
	CreatedAt Time   `json:"created_at"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Time unmarshals both RFC 3339 timestamps and the zone-less ISO 8601
// form the backend emits for naive datetimes.
type Time struct {
	time.Time
}

const naiveLayout = "2006-01-02T15:04:05.999999999"

func (t *Time) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.Parse(naiveLayout, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(time.RFC3339Nano) + `"`), nil
}
