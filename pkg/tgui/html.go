package tgui

import (
	"html"
	"strings"
)

// ParseMode is the Telegram parse mode the helpers below produce.
const ParseMode = "HTML"

// H is HTML that is safe to send with ParseMode. Values of type H are
// already escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks a string as already-safe HTML. Use sparingly.
func Raw(s string) H { return H(s) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Pre renders a preformatted block. Telegram needs balanced tags per
// message, so callers keep the block within one message.
func Pre(s string) H { return wrap("pre", Esc(s)) }

// Field renders "<i>label</i>: value".
func Field(label, value string) H { return I(label) + ": " + Esc(value) }

// Lines joins parts with newlines, skipping empty ones.
func Lines(parts ...H) H { return JoinH("\n", parts...) }

// JoinH joins safe HTML parts with sep, skipping blank parts.
func JoinH(sep string, parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, sep))
}
