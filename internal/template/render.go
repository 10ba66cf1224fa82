// Package template renders message bodies with a stable {identifier}
// placeholder grammar. Unknown placeholders are left verbatim so tenant
// text that merely looks like a placeholder survives untouched.
package template

import (
	"strconv"
	"strings"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// Context is the substitution map for one render call.
type Context map[string]string

// Render substitutes {identifier} placeholders in a single pass.
func Render(tmpl string, ctx Context) string {
	if tmpl == "" || !strings.Contains(tmpl, "{") {
		return tmpl
	}

	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); {
		open := strings.IndexByte(tmpl[i:], '{')
		if open < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		open += i
		b.WriteString(tmpl[i:open])

		close := strings.IndexByte(tmpl[open:], '}')
		if close < 0 {
			b.WriteString(tmpl[open:])
			break
		}
		close += open

		key := tmpl[open+1 : close]
		if value, ok := lookup(ctx, key); ok {
			b.WriteString(value)
		} else {
			b.WriteString(tmpl[open : close+1])
		}
		i = close + 1
	}
	return b.String()
}

func lookup(ctx Context, key string) (string, bool) {
	if !isIdentifier(key) {
		return "", false
	}
	value, ok := ctx[key]
	return value, ok
}

func isIdentifier(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}

// TicketContext builds the standard substitution map for a ticket and its
// contact.
func TicketContext(ticket *domain.Ticket, contact *domain.Contact) Context {
	ctx := Context{}
	if contact != nil {
		ctx["name"] = contact.Name
		ctx["nome"] = contact.Name
		ctx["email"] = contact.Email
		ctx["numero"] = contact.Number
	}
	if ticket != nil && ticket.ID > 0 {
		ctx["protocol"] = protocol(ticket)
	}
	return ctx
}

// CampaignContext builds the substitution map for one campaign recipient,
// layering tenant-defined variables over the contact fields.
func CampaignContext(contact *domain.ContactListItem, variables []domain.Variable) Context {
	ctx := Context{
		"nome":   contact.Name,
		"email":  contact.Email,
		"numero": contact.Number,
	}
	for _, v := range variables {
		if v.Key != "" {
			ctx[v.Key] = v.Value
		}
	}
	return ctx
}

func protocol(ticket *domain.Ticket) string {
	return ticket.CreatedAt.Format("20060102") + strconv.FormatInt(ticket.ID, 10)
}
