package cogs

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"topup-go/models"
	"topup-go/utils"
)

// DonorSource returns the top donors.
type DonorSource interface {
	TopDonors(ctx context.Context, limit int) ([]models.DonorTotal, error)
}

// LeaderboardPublisher keeps one leaderboard message up to date.
type LeaderboardPublisher struct {
	source    DonorSource
	cache     *utils.LeaderboardCache
	channelID string
	currency  string
	interval  time.Duration

	mutex     sync.Mutex
	messageID string
	refresh   chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

// NewLeaderboardPublisher creates a publisher. It does nothing until Start.
func NewLeaderboardPublisher(source DonorSource, cache *utils.LeaderboardCache, channelID, currency string, interval time.Duration) *LeaderboardPublisher {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &LeaderboardPublisher{
		source:    source,
		cache:     cache,
		channelID: channelID,
		currency:  currency,
		interval:  interval,
		refresh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Leaderboard returns the cached top donors, loading them when stale.
func (lp *LeaderboardPublisher) Leaderboard(ctx context.Context) ([]models.DonorTotal, error) {
	return lp.cache.GetOrLoad(ctx, func(ctx context.Context) ([]models.DonorTotal, error) {
		return lp.source.TopDonors(ctx, utils.LeaderboardSize)
	})
}

// Invalidate drops the cached leaderboard and asks for a repost.
func (lp *LeaderboardPublisher) Invalidate() {
	lp.cache.Invalidate()
	select {
	case lp.refresh <- struct{}{}:
	default:
	}
}

// Start posts the leaderboard now and then on every tick. Without a channel
// only the cache is maintained.
func (lp *LeaderboardPublisher) Start(s *discordgo.Session) {
	if lp.channelID == "" {
		utils.BotLogf("LEADERBOARD", "no channel configured, publisher disabled")
		return
	}
	lp.findExisting(s)

	go func() {
		ticker := time.NewTicker(lp.interval)
		defer ticker.Stop()

		lp.publish(s)
		for {
			select {
			case <-ticker.C:
				lp.cache.Invalidate()
				lp.publish(s)
			case <-lp.refresh:
				lp.publish(s)
			case <-lp.done:
				return
			}
		}
	}()
}

// Stop ends the publishing loop.
func (lp *LeaderboardPublisher) Stop() {
	lp.stopOnce.Do(func() { close(lp.done) })
}

func (lp *LeaderboardPublisher) publish(s *discordgo.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	donors, err := lp.Leaderboard(ctx)
	if err != nil {
		utils.BotLogf("LEADERBOARD", "failed to load top donors: %v", err)
		return
	}
	embed := utils.LeaderboardEmbed(donors, lp.currency)

	lp.mutex.Lock()
	defer lp.mutex.Unlock()

	if lp.messageID != "" {
		_, err := s.ChannelMessageEditEmbed(lp.channelID, lp.messageID, embed)
		if err == nil {
			return
		}
		utils.BotLogf("LEADERBOARD", "edit failed, posting a new message: %v", err)
	}

	msg, err := s.ChannelMessageSendEmbed(lp.channelID, embed)
	if err != nil {
		utils.BotLogf("LEADERBOARD", "failed to post leaderboard: %v", err)
		return
	}
	lp.messageID = msg.ID
}

// findExisting reuses the bot's last leaderboard message after a restart.
func (lp *LeaderboardPublisher) findExisting(s *discordgo.Session) {
	messages, err := s.ChannelMessages(lp.channelID, 25, "", "", "")
	if err != nil {
		utils.BotLogf("LEADERBOARD", "failed to read channel history: %v", err)
		return
	}
	for _, m := range messages {
		if m.Author == nil || m.Author.ID != s.State.User.ID || len(m.Embeds) == 0 {
			continue
		}
		if strings.HasSuffix(m.Embeds[0].Title, "Top supporters") {
			lp.mutex.Lock()
			lp.messageID = m.ID
			lp.mutex.Unlock()
			return
		}
	}
}

// RegisterLeaderboardCommands returns the /leaderboard command definition.
func RegisterLeaderboardCommands() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "leaderboard",
		Description: "Show the top supporters",
	}
}

// HandleLeaderboardCommand answers /leaderboard from the cache.
func (lp *LeaderboardPublisher) HandleLeaderboardCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	donors, err := lp.Leaderboard(ctx)
	if err != nil {
		utils.BotLogf("LEADERBOARD", "failed to load top donors: %v", err)
		respondError(s, i, "The leaderboard is not available right now.")
		return
	}
	if err := utils.SendInteractionResponse(s, i, utils.LeaderboardEmbed(donors, lp.currency), nil, false); err != nil {
		utils.BotLogf("LEADERBOARD", "failed to answer /leaderboard: %v", err)
	}
}
