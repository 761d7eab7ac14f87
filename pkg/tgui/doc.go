// Package tgui builds Telegram HTML message bodies. Every helper escapes its
// text input, so the result can be sent with ParseMode "HTML" as is.
package tgui
