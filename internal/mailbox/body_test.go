package mailbox

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/gmail/v1"
)

func encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestMessageBody_PrefersPlainText(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encode("<p>html</p>")}},
			{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encode("plain text")}},
		},
	}

	assert.Equal(t, "plain text", messageBody(payload))
}

func TestMessageBody_HTMLFallback(t *testing.T) {
	markup := `<html><head><style>p{color:red}</style></head><body><p>Payment received</p><table><tr><td>Amount</td><td>&#8377;5,000</td></tr></table><script>track()</script></body></html>`
	payload := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/html; charset=UTF-8", Body: &gmail.MessagePartBody{Data: encode(markup)}},
		},
	}

	assert.Equal(t, "Payment received Amount ₹5,000", messageBody(payload))
}

func TestMessageBody_RawURLEncoding(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "text/plain",
		Body:     &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("Rs.10"))},
	}

	assert.Equal(t, "Rs.10", messageBody(payload))
}

func TestToMessage_Headers(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m-1",
		InternalDate: 1718445600000,
		Snippet:      "snippet only",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmail.MessagePartHeader{
				{Name: "subject", Value: "Payment received"},
				{Name: "From", Value: "PhonePe <noreply@phonepe.com>"},
			},
		},
	}

	out := toMessage(msg)

	assert.Equal(t, "m-1", out.ID)
	assert.Equal(t, "Payment received", out.Subject)
	assert.Equal(t, "PhonePe <noreply@phonepe.com>", out.From)
	assert.Equal(t, "snippet only", out.Body)
	assert.Equal(t, int64(1718445600000), out.ReceivedAt.UnixMilli())
}
