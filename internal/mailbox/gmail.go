package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	gmailUser   = "me"
	unreadLabel = "UNREAD"
)

// GmailProvider talks to the Gmail API on behalf of tenant mailboxes that
// authorised this service's OAuth client.
type GmailProvider struct {
	oauth *oauth2.Config
}

func NewGmailProvider(clientID, clientSecret, redirectURL string) *GmailProvider {
	return &GmailProvider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.GmailModifyScope},
		},
	}
}

func (p *GmailProvider) Connect(ctx context.Context, accessToken string) (Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &gmailClient{svc: svc}, nil
}

func (p *GmailProvider) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	src := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, re.ErrorDescription)
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	// Google only returns a new refresh token when it rotates it.
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = refreshToken
	}

	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		Expiry:       tok.Expiry,
	}, nil
}

type gmailClient struct {
	svc *gmail.Service
}

func (c *gmailClient) ListUnread(ctx context.Context, query string, max int64) ([]string, error) {
	resp, err := c.svc.Users.Messages.List(gmailUser).Q(query).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("list messages", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (c *gmailClient) GetMessage(ctx context.Context, id string) (*Message, error) {
	msg, err := c.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("get message", err)
	}
	return toMessage(msg), nil
}

func (c *gmailClient) MarkRead(ctx context.Context, id string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{unreadLabel}}
	if _, err := c.svc.Users.Messages.Modify(gmailUser, id, req).Context(ctx).Do(); err != nil {
		return wrapAPIError("mark read", err)
	}
	return nil
}

func toMessage(msg *gmail.Message) *Message {
	body := messageBody(msg.Payload)
	if body == "" {
		body = msg.Snippet
	}

	return &Message{
		ID:         msg.Id,
		Subject:    header(msg.Payload, "Subject"),
		From:       header(msg.Payload, "From"),
		Body:       body,
		ReceivedAt: time.UnixMilli(msg.InternalDate),
	}
}

func wrapAPIError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	return fmt.Errorf("%s: %w", op, err)
}
