package cogs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"topup-go/models"
	"topup-go/rcon"
	"topup-go/topup"
	"topup-go/utils"
)

// AdminCog serves /rcon for server administrators.
type AdminCog struct {
	manager     *rcon.Manager
	service     *topup.Service
	store       *utils.Store
	adminRoleID string
}

// NewAdminCog creates the cog.
func NewAdminCog(manager *rcon.Manager, service *topup.Service, store *utils.Store, adminRoleID string) *AdminCog {
	return &AdminCog{manager: manager, service: service, store: store, adminRoleID: adminRoleID}
}

// RegisterAdminCommands returns the /rcon command definition.
func RegisterAdminCommands() *discordgo.ApplicationCommand {
	perms := int64(discordgo.PermissionManageServer)
	server := func(required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:         discordgo.ApplicationCommandOptionString,
			Name:         "server",
			Description:  "Server key",
			Required:     required,
			Autocomplete: true,
		}
	}
	donation := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "donation",
		Description: "Donation ID",
		Required:    true,
	}

	return &discordgo.ApplicationCommand{
		Name:                     "rcon",
		Description:              "Manage game servers and top-ups",
		DefaultMemberPermissions: &perms,
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "status", Description: "Show every server's health"},
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "test", Description: "Probe one or all servers",
				Options: []*discordgo.ApplicationCommandOption{server(false)},
			},
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "reset", Description: "Clear failure streaks",
				Options: []*discordgo.ApplicationCommandOption{server(false)},
			},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "reload", Description: "Re-read the server list"},
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "exec", Description: "Run a raw RCON command",
				Options: []*discordgo.ApplicationCommandOption{
					server(true),
					{Type: discordgo.ApplicationCommandOptionString, Name: "command", Description: "Command text", Required: true},
				},
			},
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "retry", Description: "Retry delivery of a paid donation",
				Options: []*discordgo.ApplicationCommandOption{donation},
			},
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "approve", Description: "Approve a slip by hand and deliver",
				Options: []*discordgo.ApplicationCommandOption{
					donation,
					{Type: discordgo.ApplicationCommandOptionString, Name: "reference", Description: "Bank transaction reference"},
				},
			},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "log", Description: "Show recent RCON commands"},
		},
	}
}

// HandleAdminCommand dispatches /rcon subcommands.
func (c *AdminCog) HandleAdminCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !isAdmin(i, c.adminRoleID) {
		respondError(s, i, utils.AdminOnlyMessage)
		return
	}
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	args := make(map[string]string, len(sub.Options))
	for _, opt := range sub.Options {
		args[opt.Name] = strings.TrimSpace(opt.StringValue())
	}

	// Probes and grants can take longer than the 3s interaction window.
	if err := utils.DeferInteractionResponse(s, i, true); err != nil {
		utils.BotLogf("ADMIN", "failed to defer /rcon %s: %v", sub.Name, err)
		return
	}
	user := utils.InteractionUser(i)
	if user != nil {
		utils.BotLogf("ADMIN", "%s ran /rcon %s", user.Username, sub.Name)
	}

	embed := c.run(sub.Name, args)
	if err := utils.EditOriginalInteraction(s, i, utils.OptimizeEmbedPayload(embed), nil); err != nil {
		utils.BotLogf("ADMIN", "failed to answer /rcon %s: %v", sub.Name, err)
	}
}

func (c *AdminCog) run(sub string, args map[string]string) *discordgo.MessageEmbed {
	switch sub {
	case "status":
		return utils.EndpointStatusEmbed(c.manager.GetAllEndpoints())

	case "test":
		if key := args["server"]; key != "" {
			return utils.CommandResultEmbed("probe", c.manager.TestConnectivity(key))
		}
		return utils.ConnectivityEmbed(c.manager.TestAllConnectivity())

	case "reset":
		if key := args["server"]; key != "" {
			if !c.manager.ResetFailures(key) {
				return utils.ErrorEmbed(fmt.Sprintf("Unknown server `%s`.", key))
			}
			return utils.CreateBrandedEmbed(utils.CheckEmoji+" Reset", fmt.Sprintf("Failure streak of `%s` cleared.", key), utils.SuccessColor)
		}
		n := c.manager.ResetAllFailures()
		return utils.CreateBrandedEmbed(utils.CheckEmoji+" Reset", fmt.Sprintf("Cleared %s.", pluralServers(n)), utils.SuccessColor)

	case "reload":
		if err := c.manager.Reload(); err != nil {
			return utils.ErrorEmbed("Reload failed, the previous server list is still active: " + err.Error())
		}
		return utils.EndpointStatusEmbed(c.manager.GetAllEndpoints())

	case "exec":
		command := args["command"]
		result := c.manager.ExecuteCommand(args["server"], command)
		c.store.RecordCommand(context.Background(), commandLog(result))
		return utils.CommandResultEmbed(command, result)

	case "retry", "approve":
		id, err := uuid.Parse(args["donation"])
		if err != nil {
			return utils.ErrorEmbed("That is not a donation ID.")
		}
		ctx, cancel := context.WithTimeout(context.Background(), slipTimeout)
		defer cancel()

		var out topup.Outcome
		if sub == "retry" {
			out, err = c.service.Retry(ctx, id)
		} else {
			out, err = c.service.Approve(ctx, id, args["reference"])
		}
		if err != nil {
			return utils.ErrorEmbed(err.Error())
		}
		return utils.TopupResultEmbed(out.Donation, out.Item, out.Delivered, out.Message)

	case "log":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		entries, err := c.store.RecentCommands(ctx, 15)
		if err != nil {
			return utils.ErrorEmbed(err.Error())
		}
		return commandLogEmbed(entries)
	}
	return utils.ErrorEmbed("Unknown subcommand.")
}

// HandleAutocomplete suggests server keys.
func (c *AdminCog) HandleAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var typed string
	data := i.ApplicationCommandData()
	if len(data.Options) > 0 {
		for _, opt := range data.Options[0].Options {
			if opt.Focused {
				typed = strings.ToLower(opt.StringValue())
			}
		}
	}

	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, 25)
	for _, st := range c.manager.GetAllEndpoints() {
		if len(choices) == 25 {
			break
		}
		if typed != "" && !strings.Contains(strings.ToLower(st.Key), typed) &&
			!strings.Contains(strings.ToLower(st.DisplayName), typed) {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  fmt.Sprintf("%s (%s)", st.DisplayName, st.Key),
			Value: st.Key,
		})
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
	if err != nil {
		utils.BotLogf("ADMIN", "autocomplete failed: %v", err)
	}
}

func commandLog(result rcon.CommandResult) models.CommandLog {
	return models.CommandLog{
		EndpointKey: result.EndpointKey,
		Command:     result.Command,
		Success:     result.Success,
		Response:    result.Response,
		Error:       result.Error,
	}
}

func commandLogEmbed(entries []models.CommandLog) *discordgo.MessageEmbed {
	embed := utils.CreateBrandedEmbed(utils.ServerEmoji+" Recent RCON commands", "", utils.BotColor)
	if len(entries) == 0 {
		embed.Description = "No commands recorded yet."
		return embed
	}

	var b strings.Builder
	for _, e := range entries {
		mark := utils.CheckEmoji
		if !e.Success {
			mark = utils.CrossEmoji
		}
		fmt.Fprintf(&b, "%s <t:%d:R> **%s** `%s`\n", mark, e.CreatedAt.Unix(), e.EndpointKey, shorten(e.Command, 120))
	}
	embed.Description = b.String()
	return embed
}

func shorten(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func pluralServers(n int) string {
	if n == 1 {
		return "1 server"
	}
	return fmt.Sprintf("%d servers", n)
}
