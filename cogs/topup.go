package cogs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"topup-go/config"
	"topup-go/models"
	"topup-go/topup"
	"topup-go/utils"
)

// slipTimeout bounds one slip check including the RCON delivery.
const slipTimeout = 2 * time.Minute

// TopupCog runs /topup and the ticket channels it opens.
type TopupCog struct {
	service     *topup.Service
	catalog     *config.Catalog
	categoryID  string
	adminRoleID string

	// ticket channel ID -> donation ID
	tickets map[string]uuid.UUID
	mutex   sync.RWMutex
}

// NewTopupCog creates the cog.
func NewTopupCog(service *topup.Service, catalog *config.Catalog, cfg *config.Config) *TopupCog {
	return &TopupCog{
		service:     service,
		catalog:     catalog,
		categoryID:  cfg.TicketCategoryID,
		adminRoleID: cfg.AdminRoleID,
		tickets:     make(map[string]uuid.UUID),
	}
}

// RegisterTopupCommands returns the /topup command definition.
func RegisterTopupCommands() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "topup",
		Description: "Buy in-game points and items",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "steamid",
				Description: "Your SteamID64 (17 digits, starts with 7656119)",
				Required:    true,
				MinLength:   intPtr(17),
				MaxLength:   17,
			},
		},
	}
}

// RegisterComponents routes the cog's buttons and menus.
func (c *TopupCog) RegisterComponents(cm *utils.ComponentManager) {
	cm.RegisterHandler(utils.ShopSelectID, c.handleItemSelect)
	cm.RegisterHandler(utils.TicketCloseID, c.handleClose)
	cm.RegisterHandler(utils.TicketCancelID, c.handleCancel)
	cm.RegisterHandler(utils.TicketRetryID, c.handleRetry)
}

// HandleTopupCommand shows the shop for the given SteamID.
func (c *TopupCog) HandleTopupCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		respondError(s, i, "Top-ups can only be started inside the server.")
		return
	}

	var steamID string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "steamid" {
			steamID = strings.TrimSpace(opt.StringValue())
		}
	}
	if !topup.ValidSteamID(steamID) {
		respondError(s, i, topup.ErrInvalidSteamID.Error()+".")
		return
	}

	items := c.catalog.Items()
	embed := utils.ShopEmbed(items, c.catalog.Currency, steamID)
	one := 1
	components := []discordgo.MessageComponent{
		utils.CreateActionRow(utils.CreateSelectMenu(utils.CustomID(utils.ShopSelectID, steamID),
			"Choose a package", utils.ShopOptions(items, c.catalog.Currency), &one, &one)),
	}
	if err := utils.SendInteractionResponse(s, i, embed, components, true); err != nil {
		utils.BotLogf("TOPUP", "failed to show shop: %v", err)
	}
}

func (c *TopupCog) handleItemSelect(s *discordgo.Session, i *discordgo.InteractionCreate, steamID string) error {
	values := i.MessageComponentData().Values
	if len(values) == 0 {
		return fmt.Errorf("no item selected")
	}
	user := utils.InteractionUser(i)
	if user == nil {
		return fmt.Errorf("interaction has no user")
	}

	if err := utils.DeferInteractionResponse(s, i, true); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ch, err := c.createTicketChannel(s, i.GuildID, user)
	if err != nil {
		utils.BotLogf("TOPUP", "failed to create ticket for %s: %v", user.Username, err)
		return utils.SendFollowupMessage(s, i, utils.ErrorEmbed("Could not open a ticket channel. Please contact an admin."), true)
	}

	d, item, err := c.service.Open(ctx, user.ID, user.Username, steamID, values[0], ch.ID)
	if err != nil {
		deleteChannel(s, ch.ID)
		return utils.SendFollowupMessage(s, i, utils.ErrorEmbed(err.Error()), true)
	}
	if d.ChannelID != ch.ID {
		// The user already has an open ticket.
		deleteChannel(s, ch.ID)
		c.track(d.ChannelID, d.ID)
		return utils.SendFollowupMessage(s, i, utils.CreateBrandedEmbed(utils.WarningEmoji+" Ticket already open",
			fmt.Sprintf("You already have a ticket for **%s** in <#%s>. Finish or cancel it first.", item.Name, d.ChannelID),
			utils.WarningColor), true)
	}

	c.track(ch.ID, d.ID)
	if _, err := s.ChannelEdit(ch.ID, &discordgo.ChannelEdit{Topic: d.ID.String()}); err != nil {
		utils.BotLogf("TOPUP", "failed to set ticket topic: %v", err)
	}

	ticket := utils.TicketEmbed(d, item, c.catalog.Currency, c.receiverName(), c.receiverAccount())
	if !c.service.VerificationEnabled() {
		ticket.Description += "\nAn admin will check the slip by hand."
	}
	_, err = s.ChannelMessageSendComplex(ch.ID, &discordgo.MessageSend{
		Content: "<@" + user.ID + ">",
		Embeds:  []*discordgo.MessageEmbed{ticket},
		Components: []discordgo.MessageComponent{utils.CreateActionRow(
			utils.CreateButton(utils.CustomID(utils.TicketCancelID, d.ID.String()), "Cancel", discordgo.DangerButton, false, nil),
		)},
	})
	if err != nil {
		utils.BotLogf("TOPUP", "failed to post ticket message: %v", err)
	}

	return utils.SendFollowupMessage(s, i, utils.CreateBrandedEmbed(utils.CheckEmoji+" Ticket opened",
		fmt.Sprintf("Continue in <#%s> and upload your transfer slip there.", ch.ID), utils.SuccessColor), true)
}

func (c *TopupCog) createTicketChannel(s *discordgo.Session, guildID string, user *discordgo.User) (*discordgo.Channel, error) {
	const memberAllow = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages |
		discordgo.PermissionAttachFiles | discordgo.PermissionReadMessageHistory

	overwrites := []*discordgo.PermissionOverwrite{
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: user.ID, Type: discordgo.PermissionOverwriteTypeMember, Allow: memberAllow},
		{ID: s.State.User.ID, Type: discordgo.PermissionOverwriteTypeMember,
			Allow: memberAllow | discordgo.PermissionEmbedLinks | discordgo.PermissionManageChannels},
	}
	if c.adminRoleID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID: c.adminRoleID, Type: discordgo.PermissionOverwriteTypeRole, Allow: memberAllow,
		})
	}

	return s.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 ticketChannelName(user.Username),
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             c.categoryID,
		PermissionOverwrites: overwrites,
	})
}

// ticketChannelName keeps the characters Discord allows in channel names.
func ticketChannelName(username string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(username) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('-')
		}
	}
	name := b.String()
	if name == "" {
		name = "ticket"
	}
	if len(name) > 80 {
		name = name[:80]
	}
	return utils.TicketChannelPrefix + name
}

// HandleMessage picks up slip uploads in ticket channels.
func (c *TopupCog) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	donationID, ok := c.ticketFor(s, m.ChannelID)
	if !ok {
		return
	}

	imageURL := slipImageURL(m.Attachments)
	if imageURL == "" {
		if len(m.Attachments) > 0 {
			s.ChannelMessageSendEmbed(m.ChannelID, utils.ErrorEmbed(utils.NoSlipImageMessage))
		}
		return
	}

	if !c.service.VerificationEnabled() {
		mention := ""
		if c.adminRoleID != "" {
			mention = "<@&" + c.adminRoleID + "> "
		}
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("%sSlip received for `%s`. Approve it with `/rcon approve`.", mention, donationID))
		return
	}

	go c.processSlip(s, m.ChannelID, donationID, imageURL)
}

func (c *TopupCog) processSlip(s *discordgo.Session, channelID string, donationID uuid.UUID, imageURL string) {
	start := time.Now()
	s.ChannelTyping(channelID)

	ctx, cancel := context.WithTimeout(context.Background(), slipTimeout)
	defer cancel()

	out, err := c.service.ProcessSlip(ctx, donationID, imageURL)
	utils.TrackPerformance("ProcessSlip", time.Since(start), err == nil && out.Delivered, errors.Is(err, context.DeadlineExceeded))
	if err != nil {
		utils.BotLogf("TOPUP", "slip for %s failed: %v", donationID, err)
		message := "Something went wrong while checking the slip. Please try again in a moment."
		if errors.Is(err, topup.ErrBusy) {
			message = "Your previous slip is still being checked."
		}
		s.ChannelMessageSendEmbed(channelID, utils.ErrorEmbed(message))
		return
	}

	c.sendOutcome(s, channelID, out)
}

func (c *TopupCog) sendOutcome(s *discordgo.Session, channelID string, out topup.Outcome) {
	if out.Donation == nil {
		return
	}
	embed := utils.TopupResultEmbed(out.Donation, out.Item, out.Delivered, out.Message)
	id := out.Donation.ID.String()

	var content string
	var button discordgo.MessageComponent
	switch {
	case out.Delivered:
		utils.ClearDeliveryAlert(id)
		button = utils.CreateButton(utils.CustomID(utils.TicketCloseID, id), "Close ticket", discordgo.SecondaryButton, false, nil)
	case out.Donation.Status == models.StatusPaid:
		if c.adminRoleID != "" && utils.ShouldAlertDeliveryFailure(id, out.Message) {
			content = "<@&" + c.adminRoleID + "> delivery failed for a paid top-up."
		}
		button = utils.CreateButton(utils.CustomID(utils.TicketRetryID, id), "Retry delivery (admin)", discordgo.PrimaryButton, false, nil)
	default:
		button = utils.CreateButton(utils.CustomID(utils.TicketCancelID, id), "Cancel", discordgo.DangerButton, false, nil)
	}

	_, err := s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    content,
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{utils.CreateActionRow(button)},
	})
	if err != nil {
		utils.BotLogf("TOPUP", "failed to send outcome to %s: %v", channelID, err)
	}
}

func (c *TopupCog) handleClose(s *discordgo.Session, i *discordgo.InteractionCreate, arg string) error {
	embed := utils.CreateBrandedEmbed("Closing ticket",
		fmt.Sprintf("This channel will be deleted in %s.", utils.TicketCloseDelay), utils.BotColor)
	if err := utils.UpdateComponentInteraction(s, i, embed, nil); err != nil {
		return err
	}
	c.scheduleDelete(s, i.ChannelID)
	return nil
}

func (c *TopupCog) handleCancel(s *discordgo.Session, i *discordgo.InteractionCreate, arg string) error {
	id, err := uuid.Parse(arg)
	if err != nil {
		return fmt.Errorf("bad donation id %q: %w", arg, err)
	}

	user := utils.InteractionUser(i)
	reason := "cancelled"
	if user != nil {
		reason = "cancelled by " + user.Username
	}
	if err := c.service.Cancel(context.Background(), id, reason); err != nil {
		if errors.Is(err, topup.ErrBusy) {
			respondError(s, i, "Your slip is being checked. Please wait for the result.")
			return nil
		}
		respondError(s, i, "This ticket can no longer be cancelled: "+err.Error())
		return nil
	}

	embed := utils.CreateBrandedEmbed(utils.CrossEmoji+" Ticket cancelled",
		fmt.Sprintf("Nothing was charged. This channel will be deleted in %s.", utils.TicketCloseDelay), utils.ErrorColor)
	if err := utils.UpdateComponentInteraction(s, i, embed, nil); err != nil {
		return err
	}
	c.scheduleDelete(s, i.ChannelID)
	return nil
}

func (c *TopupCog) handleRetry(s *discordgo.Session, i *discordgo.InteractionCreate, arg string) error {
	if !isAdmin(i, c.adminRoleID) {
		respondError(s, i, utils.AdminOnlyMessage)
		return nil
	}
	id, err := uuid.Parse(arg)
	if err != nil {
		return fmt.Errorf("bad donation id %q: %w", arg, err)
	}
	if err := utils.DeferInteractionResponse(s, i, true); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), slipTimeout)
	defer cancel()
	out, err := c.service.Retry(ctx, id)
	if err != nil {
		return utils.SendFollowupMessage(s, i, utils.ErrorEmbed(err.Error()), true)
	}

	c.sendOutcome(s, i.ChannelID, out)
	return utils.SendFollowupMessage(s, i, utils.CommandResultEmbed("retry "+arg, out.Result), true)
}

func (c *TopupCog) scheduleDelete(s *discordgo.Session, channelID string) {
	c.mutex.Lock()
	delete(c.tickets, channelID)
	c.mutex.Unlock()

	time.AfterFunc(utils.TicketCloseDelay, func() { deleteChannel(s, channelID) })
}

func (c *TopupCog) track(channelID string, id uuid.UUID) {
	if channelID == "" {
		return
	}
	c.mutex.Lock()
	c.tickets[channelID] = id
	c.mutex.Unlock()
}

// ticketFor finds the donation behind a channel. Channels opened before a
// restart are recognised by name prefix and the donation ID in their topic.
func (c *TopupCog) ticketFor(s *discordgo.Session, channelID string) (uuid.UUID, bool) {
	c.mutex.RLock()
	id, ok := c.tickets[channelID]
	c.mutex.RUnlock()
	if ok {
		return id, true
	}

	ch, err := s.State.Channel(channelID)
	if err != nil || !strings.HasPrefix(ch.Name, utils.TicketChannelPrefix) {
		return uuid.Nil, false
	}
	id, err = uuid.Parse(strings.TrimSpace(ch.Topic))
	if err != nil {
		return uuid.Nil, false
	}
	c.track(channelID, id)
	return id, true
}

func (c *TopupCog) receiverName() string {
	return c.service.Settings().ReceiverName
}

func (c *TopupCog) receiverAccount() string {
	return c.service.Settings().ReceiverAccount
}

// slipImageURL returns the first image attachment.
func slipImageURL(attachments []*discordgo.MessageAttachment) string {
	for _, a := range attachments {
		if strings.HasPrefix(a.ContentType, "image/") {
			return a.URL
		}
		name := strings.ToLower(a.Filename)
		for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp"} {
			if strings.HasSuffix(name, ext) {
				return a.URL
			}
		}
	}
	return ""
}

func deleteChannel(s *discordgo.Session, channelID string) {
	if _, err := s.ChannelDelete(channelID); err != nil {
		utils.BotLogf("TOPUP", "failed to delete channel %s: %v", channelID, err)
	}
}

// isAdmin accepts the configured admin role or the Administrator permission.
func isAdmin(i *discordgo.InteractionCreate, adminRoleID string) bool {
	if i.Member == nil {
		return false
	}
	if i.Member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return utils.HasRole(i, adminRoleID)
}

// respondError sends an ephemeral error reply
func respondError(s *discordgo.Session, i *discordgo.InteractionCreate, message string) {
	if err := utils.SendInteractionResponse(s, i, utils.ErrorEmbed(message), nil, true); err != nil {
		utils.BotLogf("INTERACTION", "failed to send error response: %v", err)
	}
}

func intPtr(v int) *int {
	return &v
}
