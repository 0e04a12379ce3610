package utils

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ComponentHandler handles one component interaction. arg is whatever
// followed the first ':' in the custom ID.
type ComponentHandler func(s *discordgo.Session, i *discordgo.InteractionCreate, arg string) error

// ComponentManager routes component interactions by custom ID prefix.
type ComponentManager struct {
	mu       sync.RWMutex
	handlers map[string]ComponentHandler
}

// NewComponentManager creates an empty router.
func NewComponentManager() *ComponentManager {
	return &ComponentManager{handlers: make(map[string]ComponentHandler)}
}

// RegisterHandler registers a handler for custom IDs "prefix" and "prefix:<arg>".
func (cm *ComponentManager) RegisterHandler(prefix string, handler ComponentHandler) {
	cm.mu.Lock()
	cm.handlers[prefix] = handler
	cm.mu.Unlock()
}

// HandleInteraction handles a component interaction
func (cm *ComponentManager) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	prefix, arg := SplitCustomID(i.MessageComponentData().CustomID)

	cm.mu.RLock()
	handler, exists := cm.handlers[prefix]
	cm.mu.RUnlock()
	if !exists {
		return fmt.Errorf("no handler registered for component: %s", prefix)
	}

	return handler(s, i, arg)
}

// CustomID joins a handler prefix and its argument.
func CustomID(prefix, arg string) string {
	if arg == "" {
		return prefix
	}
	return prefix + ":" + arg
}

// SplitCustomID is the inverse of CustomID.
func SplitCustomID(customID string) (prefix, arg string) {
	prefix, arg, _ = strings.Cut(customID, ":")
	return prefix, arg
}

// CreateActionRow creates an action row with buttons
func CreateActionRow(buttons ...discordgo.MessageComponent) discordgo.MessageComponent {
	return discordgo.ActionsRow{
		Components: buttons,
	}
}

// CreateButton creates a button component
func CreateButton(customID, label string, style discordgo.ButtonStyle, disabled bool, emoji *discordgo.ComponentEmoji) discordgo.MessageComponent {
	button := discordgo.Button{
		CustomID: customID,
		Label:    label,
		Style:    style,
		Disabled: disabled,
	}

	if emoji != nil {
		button.Emoji = emoji
	}

	return button
}

// CreateSelectMenu creates a select menu component
func CreateSelectMenu(customID, placeholder string, options []discordgo.SelectMenuOption, minValues, maxValues *int) discordgo.MessageComponent {
	selectMenu := discordgo.SelectMenu{
		MenuType:    discordgo.StringSelectMenu,
		CustomID:    customID,
		Placeholder: placeholder,
		Options:     options,
	}

	if minValues != nil {
		selectMenu.MinValues = minValues
	}

	if maxValues != nil {
		selectMenu.MaxValues = *maxValues
	}

	return selectMenu
}

// interactionTimeout is how long we wait for Discord before giving up on a
// response; Discord itself invalidates the token after three seconds.
const interactionTimeout = 2500 * time.Millisecond

// SendInteractionResponse sends an interaction response with embed and components
func SendInteractionResponse(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: components,
	}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}

	return respondWithTimeout("SendInteractionResponse", interactionTimeout, func() error {
		return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: data,
		})
	})
}

// respondWithTimeout runs a Discord API call and stops waiting after timeout.
func respondWithTimeout(operation string, timeout time.Duration, call func() error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- call()
	}()

	select {
	case err := <-resultCh:
		duration := time.Since(start)
		if err != nil {
			BotLogf("DISCORD_API", "%s failed: %v", operation, err)
		}
		TrackPerformance(operation, duration, err == nil, false)
		return err
	case <-ctx.Done():
		BotLogf("DISCORD_API", "%s timed out after %v", operation, timeout)
		TrackPerformance(operation, time.Since(start), false, true)
		return ctx.Err()
	}
}

// EditOriginalInteraction edits a deferred or sent response, retrying
// transient failures and falling back to a channel message.
func EditOriginalInteraction(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) error {
	edit := &discordgo.WebhookEdit{
		Embeds:     &[]*discordgo.MessageEmbed{embed},
		Components: &components,
	}

	var lastErr error
	for attempt := 0; attempt <= 2; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(250*attempt) * time.Millisecond)
		}
		lastErr = respondWithTimeout("EditOriginalInteraction", 5*time.Second, func() error {
			_, err := s.InteractionResponseEdit(i.Interaction, edit)
			return err
		})
		if lastErr == nil {
			return nil
		}
		if isNonRetryableError(lastErr) {
			break
		}
	}

	// The interaction token is only valid for 15 minutes; long RCON
	// deliveries can outlive it.
	if i.ChannelID != "" {
		if err := sendDirectChannelMessage(s, i.ChannelID, embed, components); err == nil {
			BotLogf("DISCORD_API", "Used direct channel message as fallback")
			return nil
		}
	}
	return fmt.Errorf("interaction edit failed with all fallbacks: %w", lastErr)
}

// isNonRetryableError checks if an error should not be retried
func isNonRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Unknown Webhook") ||
		strings.Contains(msg, "\"code\": 10015") ||
		strings.Contains(msg, "Unknown interaction") ||
		strings.Contains(msg, "400") // Bad request won't get better with retry
}

// sendDirectChannelMessage sends a message directly to a channel
func sendDirectChannelMessage(s *discordgo.Session, channelID string, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) error {
	message := &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: components,
	}
	return respondWithTimeout("ChannelMessageSendComplex", 5*time.Second, func() error {
		_, err := s.ChannelMessageSendComplex(channelID, message)
		return err
	})
}

// SendFollowupMessage sends a followup message with timeout handling
func SendFollowupMessage(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) error {
	params := &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	}
	if ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	return respondWithTimeout("FollowupMessageCreate", 5*time.Second, func() error {
		_, err := s.FollowupMessageCreate(i.Interaction, true, params)
		return err
	})
}

// DeferInteractionResponse defers an interaction response
func DeferInteractionResponse(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}

	return respondWithTimeout("DeferInteractionResponse", interactionTimeout, func() error {
		return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: data,
		})
	})
}

// UpdateComponentInteraction updates the message a component belongs to
func UpdateComponentInteraction(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) error {
	return respondWithTimeout("UpdateComponentInteraction", interactionTimeout, func() error {
		return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Embeds:     []*discordgo.MessageEmbed{embed},
				Components: components,
			},
		})
	})
}

// InteractionUser returns the user behind an interaction in a guild or DM.
func InteractionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// HasRole reports whether the interacting member holds roleID.
func HasRole(i *discordgo.InteractionCreate, roleID string) bool {
	if i.Member == nil || roleID == "" {
		return false
	}
	for _, r := range i.Member.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// BotLogf provides centralized formatted logging
func BotLogf(area string, format string, args ...interface{}) {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	message := fmt.Sprintf(format, args...)
	fmt.Printf("[%s] [%s] %s\n", timestamp, area, message)
}

// Logger hands BotLogf to packages that take a logger.
type Logger struct{}

func (Logger) Logf(area string, format string, args ...interface{}) {
	BotLogf(area, format, args...)
}

// OptimizeEmbedPayload ensures embed payload is minimal and efficiently structured
func OptimizeEmbedPayload(embed *discordgo.MessageEmbed) *discordgo.MessageEmbed {
	if embed == nil {
		return embed
	}

	optimized := &discordgo.MessageEmbed{
		Title:       strings.TrimSpace(embed.Title),
		Description: strings.TrimSpace(embed.Description),
		Color:       embed.Color,
		Timestamp:   embed.Timestamp,
	}

	// Only include footer if it has content
	if embed.Footer != nil && strings.TrimSpace(embed.Footer.Text) != "" {
		optimized.Footer = &discordgo.MessageEmbedFooter{
			Text:    strings.TrimSpace(embed.Footer.Text),
			IconURL: embed.Footer.IconURL,
		}
	}

	if embed.Thumbnail != nil && embed.Thumbnail.URL != "" {
		optimized.Thumbnail = embed.Thumbnail
	}

	// Drop empty fields; Discord rejects them
	for _, field := range embed.Fields {
		if field != nil && strings.TrimSpace(field.Name) != "" && strings.TrimSpace(field.Value) != "" {
			optimized.Fields = append(optimized.Fields, &discordgo.MessageEmbedField{
				Name:   strings.TrimSpace(field.Name),
				Value:  strings.TrimSpace(field.Value),
				Inline: field.Inline,
			})
		}
	}

	return optimized
}

// PerformanceMetrics tracks Discord API response performance
type PerformanceMetrics struct {
	TotalCalls      int64         `json:"total_calls"`
	SuccessfulCalls int64         `json:"successful_calls"`
	FailedCalls     int64         `json:"failed_calls"`
	TimeoutCalls    int64         `json:"timeout_calls"`
	TotalDuration   time.Duration `json:"total_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	MinDuration     time.Duration `json:"min_duration"`
}

var (
	metricsMu         sync.Mutex
	discordAPIMetrics = PerformanceMetrics{MinDuration: time.Hour}
)

// TrackPerformance records performance metrics for Discord API calls
func TrackPerformance(operation string, duration time.Duration, success bool, timedOut bool) {
	metricsMu.Lock()
	discordAPIMetrics.TotalCalls++
	discordAPIMetrics.TotalDuration += duration
	if success {
		discordAPIMetrics.SuccessfulCalls++
	} else {
		discordAPIMetrics.FailedCalls++
	}
	if timedOut {
		discordAPIMetrics.TimeoutCalls++
	}
	if duration > discordAPIMetrics.MaxDuration {
		discordAPIMetrics.MaxDuration = duration
	}
	if duration < discordAPIMetrics.MinDuration && duration > 0 {
		discordAPIMetrics.MinDuration = duration
	}
	metricsMu.Unlock()

	if duration > time.Second {
		BotLogf("DISCORD_PERF", "SLOW %s: %dms", operation, duration.Milliseconds())
	}
}

// GetPerformanceMetrics returns current Discord API performance metrics
func GetPerformanceMetrics() PerformanceMetrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	m := discordAPIMetrics
	if m.TotalCalls == 0 {
		m.MinDuration = 0
	}
	return m
}

// ResetPerformanceMetrics resets the performance tracking metrics
func ResetPerformanceMetrics() {
	metricsMu.Lock()
	discordAPIMetrics = PerformanceMetrics{MinDuration: time.Hour}
	metricsMu.Unlock()
}
