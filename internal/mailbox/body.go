package mailbox

import (
	"encoding/base64"
	"strings"

	"golang.org/x/net/html"
	"google.golang.org/api/gmail/v1"
)

// messageBody returns the text of a Gmail payload, preferring text/plain over
// text/html. HTML is reduced to its visible text.
func messageBody(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if text := findPart(part, "text/plain"); text != "" {
		return text
	}
	if markup := findPart(part, "text/html"); markup != "" {
		return htmlToText(markup)
	}
	return ""
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if strings.HasPrefix(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		if decoded, err := decodeBase64URL(part.Body.Data); err == nil {
			return decoded
		}
	}
	for _, child := range part.Parts {
		if text := findPart(child, mimeType); text != "" {
			return text
		}
	}
	return ""
}

func decodeBase64URL(data string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return "", err
		}
	}
	return string(raw), nil
}

func htmlToText(markup string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(markup))

	var (
		sb   strings.Builder
		skip int
	)
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style", "head":
				skip++
			case "br", "p", "div", "tr", "td", "li":
				sb.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style", "head":
				if skip > 0 {
					skip--
				}
			case "p", "div", "tr", "td", "li":
				sb.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			sb.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				sb.Write(tokenizer.Text())
			}
		}
	}
}

func header(part *gmail.MessagePart, name string) string {
	if part == nil {
		return ""
	}
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
