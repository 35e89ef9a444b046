package telegram

import "gopkg.in/telebot.v3"

// Client is the outbound half of the bot: relays and digests go through it.
type Client interface {
	SendMessage(chatID int64, text string, options *telebot.SendOptions) error
}
