// Package mailbox provides access to a school's payment inbox and keeps its
// OAuth credentials fresh.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnauthorized is returned when the mailbox rejects the access token.
var ErrUnauthorized = errors.New("mailbox rejected access token")

// ErrInvalidGrant is returned when the refresh token has been revoked or expired.
var ErrInvalidGrant = errors.New("refresh token rejected")

// Message is one mailbox message with its decoded body.
type Message struct {
	ID         string
	Subject    string
	From       string
	Body       string
	ReceivedAt time.Time
}

// Client is an authenticated session against one mailbox.
type Client interface {
	ListUnread(ctx context.Context, query string, max int64) ([]string, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	MarkRead(ctx context.Context, id string) error
}

// Token is the result of a refresh token exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Provider opens mailbox sessions and exchanges refresh tokens.
type Provider interface {
	Connect(ctx context.Context, accessToken string) (Client, error)
	RefreshToken(ctx context.Context, refreshToken string) (*Token, error)
}

// BuildQuery returns a search query for unread mail from the given sender domains.
func BuildQuery(domains []string) string {
	if len(domains) == 0 {
		return "is:unread"
	}
	return fmt.Sprintf("is:unread from:(%s)", strings.Join(domains, " OR "))
}
