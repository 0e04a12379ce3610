package utils

import "time"

// Branding
const (
	BotColor     = 0x5865F2
	SuccessColor = 0x2ECC71
	WarningColor = 0xF1C40F
	ErrorColor   = 0xE74C3C
	BotName      = "Server Top-up"
)

// Top-up tickets
const (
	TicketChannelPrefix = "topup-"
	// TicketCloseDelay is how long a finished ticket stays visible.
	TicketCloseDelay = 30 * time.Second
	// SlipMaxAge is the oldest transfer accepted as payment.
	SlipMaxAge = 24 * time.Hour
	// LeaderboardSize is the number of donors shown.
	LeaderboardSize = 10
)

// Component custom ID prefixes
const (
	ShopSelectID   = "topup_item"
	TicketCloseID  = "topup_close"
	TicketRetryID  = "topup_retry"
	TicketCancelID = "topup_cancel"
)

// UI Messages
const (
	SlipPromptMessage  = "Upload a photo of your transfer slip in this channel. It is checked automatically."
	NoSlipImageMessage = "That message has no image attached. Please upload the slip as an image."
	AdminOnlyMessage   = "This command is for server administrators only."
)

// Emojis
const (
	CheckEmoji   = "✅"
	CrossEmoji   = "❌"
	WarningEmoji = "⚠️"
	ServerEmoji  = "🖥️"
	MoneyEmoji   = "💰"
	TrophyEmoji  = "🏆"
)

// RankEmojis decorate the top three leaderboard places.
var RankEmojis = map[int]string{
	1: "🥇",
	2: "🥈",
	3: "🥉",
}
