package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"topup-go/models"
	"topup-go/rcon"
)

// CreateBrandedEmbed creates a basic embed with bot branding
func CreateBrandedEmbed(title, description string, color int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: BotName,
		},
	}

	return embed
}

// ErrorEmbed is the standard red reply for failed interactions.
func ErrorEmbed(message string) *discordgo.MessageEmbed {
	return CreateBrandedEmbed(CrossEmoji+" Something went wrong", message, ErrorColor)
}

// ShopEmbed lists the catalog above the item select menu.
func ShopEmbed(items []models.ShopItem, currency, steamID string) *discordgo.MessageEmbed {
	embed := CreateBrandedEmbed(MoneyEmoji+" Top-up shop",
		fmt.Sprintf("Rewards go to SteamID `%s`. Pick a package below to open a payment ticket.", steamID), BotColor)

	for _, item := range items {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   fmt.Sprintf("%s %s", item.Emoji, item.Name),
			Value:  fmt.Sprintf("%s %s\n%s", FormatAmount(item.Price), currency, RewardSummary(item)),
			Inline: true,
		})
	}
	return embed
}

// ShopOptions builds the select menu options for the catalog.
func ShopOptions(items []models.ShopItem, currency string) []discordgo.SelectMenuOption {
	options := make([]discordgo.SelectMenuOption, 0, len(items))
	for _, item := range items {
		option := discordgo.SelectMenuOption{
			Label:       item.Name,
			Value:       item.Key,
			Description: truncateRunes(fmt.Sprintf("%s %s - %s", FormatAmount(item.Price), currency, RewardSummary(item)), 100),
		}
		if item.Emoji != "" {
			option.Emoji = &discordgo.ComponentEmoji{Name: item.Emoji}
		}
		options = append(options, option)
	}
	return options
}

// RewardSummary describes what an item grants in one line.
func RewardSummary(item models.ShopItem) string {
	var parts []string
	if item.Points > 0 {
		parts = append(parts, FormatNumber(int64(item.Points))+" points")
	}
	if n := len(item.Items); n > 0 {
		parts = append(parts, pluralize(n, "item"))
	}
	if n := len(item.Commands); n > 0 {
		parts = append(parts, pluralize(n, "bonus"))
	}
	if item.Description != "" {
		parts = append(parts, item.Description)
	}
	return strings.Join(parts, ", ")
}

// TicketEmbed is the first message in a payment ticket.
func TicketEmbed(d *models.Donation, item models.ShopItem, currency, receiverName, receiverAccount string) *discordgo.MessageEmbed {
	embed := CreateBrandedEmbed(fmt.Sprintf("Ticket for %s", item.Name), SlipPromptMessage, BotColor)
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Amount", Value: fmt.Sprintf("%s %s", FormatAmount(item.Price), currency), Inline: true},
		{Name: "SteamID", Value: "`" + d.SteamID + "`", Inline: true},
		{Name: "Rewards", Value: RewardSummary(item), Inline: false},
	}
	if receiverAccount != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Transfer to",
			Value: strings.TrimSpace(fmt.Sprintf("%s\n`%s`", receiverName, receiverAccount)),
		})
	}
	embed.Footer.Text = BotName + " • " + d.ID.String()
	return embed
}

// TopupResultEmbed renders the outcome of processing a slip.
func TopupResultEmbed(d *models.Donation, item models.ShopItem, delivered bool, message string) *discordgo.MessageEmbed {
	switch {
	case delivered:
		embed := CreateBrandedEmbed(CheckEmoji+" Top-up complete",
			fmt.Sprintf("Thank you! %s has been delivered to `%s`.", item.Name, d.SteamID), SuccessColor)
		if d.EndpointKey != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Server", Value: d.EndpointKey, Inline: true})
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Reference", Value: "`" + d.TransRef + "`", Inline: true})
		return embed
	case d.Status == models.StatusPaid:
		embed := CreateBrandedEmbed(WarningEmoji+" Payment received, delivery pending",
			"Your payment was verified but the game server did not accept the reward yet. An admin has been notified and will retry.", WarningColor)
		embed.Fields = []*discordgo.MessageEmbedField{{Name: "Reason", Value: truncateRunes(message, 1000)}}
		return embed
	default:
		return CreateBrandedEmbed(CrossEmoji+" Slip not accepted", truncateRunes(message, 2000), ErrorColor)
	}
}

// EndpointStatusEmbed summarises every RCON endpoint for admins.
func EndpointStatusEmbed(statuses []rcon.EndpointStatus) *discordgo.MessageEmbed {
	if len(statuses) == 0 {
		return CreateBrandedEmbed(ServerEmoji+" RCON servers", "No servers are configured.", WarningColor)
	}

	embed := CreateBrandedEmbed(ServerEmoji+" RCON servers", "", BotColor)
	for _, st := range statuses {
		state := CheckEmoji + " available"
		switch {
		case !st.Enabled:
			state = "⏸️ disabled"
		case !st.Available:
			state = CrossEmoji + " unavailable"
		}
		value := fmt.Sprintf("%s\n`%s:%d`\nHealth **%d**/100 • %d/%d ok • %d failing",
			state, st.Host, st.Port, st.HealthScore, st.SuccessfulCommands, st.TotalCommands, st.ConsecutiveFailures)
		if st.LastError != "" {
			value += "\n> " + truncateRunes(st.LastError, 200)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   fmt.Sprintf("%s (%s)", st.DisplayName, st.Key),
			Value:  value,
			Inline: false,
		})
	}
	return embed
}

// ConnectivityEmbed renders a probe of every endpoint.
func ConnectivityEmbed(report rcon.ConnectivityReport) *discordgo.MessageEmbed {
	color := SuccessColor
	if report.Failed > 0 {
		color = WarningColor
	}
	if report.Succeeded == 0 && report.Failed > 0 {
		color = ErrorColor
	}

	embed := CreateBrandedEmbed(ServerEmoji+" Connectivity test",
		fmt.Sprintf("%d ok • %d failed • %d disabled", report.Succeeded, report.Failed, report.Disabled), color)
	for _, check := range report.Checks {
		value := string(check.Status)
		switch check.Status {
		case rcon.ConnectivityOK:
			value = CheckEmoji + " " + truncateRunes(check.Result.Response, 200)
		case rcon.ConnectivityFailed:
			value = CrossEmoji + " " + truncateRunes(check.Result.Error, 200)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: check.DisplayName, Value: value})
	}
	return embed
}

// CommandResultEmbed shows the result of an admin RCON command.
func CommandResultEmbed(command string, result rcon.CommandResult) *discordgo.MessageEmbed {
	if !result.Success {
		return CreateBrandedEmbed(CrossEmoji+" Command failed",
			fmt.Sprintf("`%s` on **%s**\n```\n%s\n```", command, result.EndpointKey, truncateRunes(result.Error, 1500)), ErrorColor)
	}
	return CreateBrandedEmbed(CheckEmoji+" Command sent",
		fmt.Sprintf("`%s` on **%s**\n```\n%s\n```", command, result.EndpointKey, truncateRunes(result.Response, 1500)), SuccessColor)
}

// LeaderboardEmbed lists the top donors.
func LeaderboardEmbed(donors []models.DonorTotal, currency string) *discordgo.MessageEmbed {
	embed := CreateBrandedEmbed(TrophyEmoji+" Top supporters", "", WarningColor)
	if len(donors) == 0 {
		embed.Description = "No donations yet. Be the first!"
		return embed
	}

	var b strings.Builder
	for idx, donor := range donors {
		place := idx + 1
		marker, ok := RankEmojis[place]
		if !ok {
			marker = fmt.Sprintf("`#%d`", place)
		}
		fmt.Fprintf(&b, "%s <@%s> • **%s %s** (%s)\n", marker, donor.UserID,
			FormatAmount(donor.Total), currency, pluralize(donor.Donations, "donation"))
	}
	embed.Description = b.String()
	return embed
}

// FormatAmount prints money with thousands separators and drops ".00".
func FormatAmount(amount float64) string {
	whole := int64(amount)
	cents := int64((amount-float64(whole))*100 + 0.5)
	if cents >= 100 {
		whole++
		cents -= 100
	}
	if cents == 0 {
		return FormatNumber(whole)
	}
	return fmt.Sprintf("%s.%02d", FormatNumber(whole), cents)
}

// FormatNumber adds thousands separators.
func FormatNumber(num int64) string {
	if num < 0 {
		return "-" + FormatNumber(-num)
	}
	str := strconv.FormatInt(num, 10)
	if len(str) <= 3 {
		return str
	}

	// Add commas for thousands
	var result strings.Builder
	for i, r := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(r)
	}

	return result.String()
}

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	if strings.HasSuffix(word, "s") {
		return fmt.Sprintf("%d %ses", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
