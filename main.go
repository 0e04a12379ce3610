package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"topup-go/api"
	"topup-go/cogs"
	"topup-go/config"
	"topup-go/models"
	"topup-go/rcon"
	"topup-go/topup"
	"topup-go/utils"
)

var (
	cfg         *config.Config
	botStatus   atomic.Value
	components  = utils.NewComponentManager()
	topupCog    *cogs.TopupCog
	adminCog    *cogs.AdminCog
	leaderboard *cogs.LeaderboardPublisher
	readyOnce   sync.Once
)

func main() {
	botStatus.Store("starting")

	var err error
	cfg, err = config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	catalog, err := config.LoadCatalog(cfg.ShopFile)
	if err != nil {
		log.Fatalf("Failed to load shop: %v", err)
	}
	log.Printf("Loaded %d shop items from %s", len(catalog.Items()), cfg.ShopFile)

	// Initialize database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := utils.NewStore(ctx, cfg.DatabaseURL)
	cancel()
	switch {
	case err != nil:
		log.Printf("Database setup failed: %v", err)
		log.Println("Bot will continue with in-memory storage")
		store = utils.NewMemoryStore()
	case store.Persistent():
		log.Println("Database connected successfully")
	default:
		log.Println("DATABASE_URL not set - donations are kept in memory only")
	}
	defer store.Close()

	manager := rcon.NewManager(
		rcon.GorconDialer{Deadline: cfg.RCONCommandTimeout},
		config.ServerFile{Path: cfg.ServersFile}.Source(),
		utils.Logger{},
		cfg.RCONOptions(),
	)
	if !manager.Initialized() {
		log.Printf("No usable RCON servers in %s - fix the file and run /rcon reload", cfg.ServersFile)
	}

	var verifier topup.SlipVerifier
	if client := utils.NewSlipClient(cfg.SlipAPIURL, cfg.SlipAPIKey); client != nil {
		verifier = client
	} else {
		log.Println("SLIP_API_URL or SLIP_API_KEY not set - slips need manual approval")
	}

	service := topup.NewService(store, verifier, manager, catalog, topup.Settings{
		ReceiverName:    cfg.ReceiverName,
		ReceiverAccount: cfg.ReceiverAccount,
		SlipMaxAge:      utils.SlipMaxAge,
	})

	cache := utils.NewLeaderboardCache(cfg.LeaderboardInterval)
	leaderboard = cogs.NewLeaderboardPublisher(store, cache, cfg.LeaderboardChannelID, catalog.Currency, cfg.LeaderboardInterval)
	service.OnCompleted = func(*models.Donation) { leaderboard.Invalidate() }

	topupCog = cogs.NewTopupCog(service, catalog, cfg)
	topupCog.RegisterComponents(components)
	adminCog = cogs.NewAdminCog(manager, service, store, cfg.AdminRoleID)

	// Start HTTP server for health checks and the admin API
	handler := api.NewHandler(manager, store, leaderboard, cache, store.Persistent(), currentStatus)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, cfg.AdminAPIKey),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go startHTTPServer(server)
	if cfg.AdminAPIKey == "" {
		log.Println("ADMIN_API_KEY not set - /api is open to anyone who can reach the port")
	}

	session, err := openDiscord()
	if err != nil {
		log.Println(err)
	} else {
		defer session.Close()
		log.Println("Bot is now running. Press CTRL+C to exit.")
	}

	// Wait for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-stop

	log.Println("Gracefully shutting down...")
	botStatus.Store("shutting_down")

	leaderboard.Stop()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	manager.Shutdown()
}

// openDiscord connects the bot. Without a token only the HTTP server runs.
func openDiscord() (*discordgo.Session, error) {
	if cfg.BotToken == "" {
		botStatus.Store("no_token")
		return nil, errors.New("BOT_TOKEN not set - Discord bot will not connect")
	}

	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		botStatus.Store("error")
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Slip uploads are message attachments, which need the content intent.
	session.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent

	session.AddHandler(onReady)
	session.AddHandler(onInteractionCreate)
	session.AddHandler(topupCog.HandleMessage)

	if err := session.Open(); err != nil {
		botStatus.Store("connection_failed")
		return nil, fmt.Errorf("failed to open Discord connection: %w", err)
	}
	botStatus.Store("running")
	return session, nil
}

func currentStatus() string {
	status, _ := botStatus.Load().(string)
	return status
}

func onReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("✅ Discord Bot logged in as %s (ID: %s)", event.User.Username, event.User.ID)
	botStatus.Store("online")

	// Set bot presence
	if err := s.UpdateStatusComplex(discordgo.UpdateStatusData{
		Activities: []*discordgo.Activity{
			{
				Name: "/topup",
				Type: discordgo.ActivityTypeWatching,
			},
		},
		Status: "online",
	}); err != nil {
		log.Printf("Failed to update status: %v", err)
	}

	// Ready fires again after every reconnect.
	readyOnce.Do(func() {
		if err := registerSlashCommands(s); err != nil {
			log.Printf("Failed to register slash commands: %v", err)
		}
		leaderboard.Start(s)
	})
}

func registerSlashCommands(s *discordgo.Session) error {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "ping",
			Description: "Check bot latency and status",
		},
		cogs.RegisterTopupCommands(),
		cogs.RegisterAdminCommands(),
		cogs.RegisterLeaderboardCommands(),
	}

	for _, command := range commands {
		_, err := s.ApplicationCommandCreate(s.State.User.ID, cfg.GuildID, command)
		if err != nil {
			return fmt.Errorf("failed to create command %s: %w", command.Name, err)
		}
	}

	log.Printf("Successfully registered %d slash commands", len(commands))
	return nil
}

func onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		switch i.ApplicationCommandData().Name {
		case "ping":
			handlePingCommand(s, i)
		case "topup":
			topupCog.HandleTopupCommand(s, i)
		case "rcon":
			adminCog.HandleAdminCommand(s, i)
		case "leaderboard":
			leaderboard.HandleLeaderboardCommand(s, i)
		}

	case discordgo.InteractionApplicationCommandAutocomplete:
		if i.ApplicationCommandData().Name == "rcon" {
			adminCog.HandleAutocomplete(s, i)
		}

	case discordgo.InteractionMessageComponent:
		if err := components.HandleInteraction(s, i); err != nil {
			utils.BotLogf("INTERACTION", "component %s failed: %v", i.MessageComponentData().CustomID, err)
		}
	}
}

func handlePingCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	startTime := time.Now()

	embed := utils.CreateBrandedEmbed("🏓 Pong!", "", utils.BotColor)
	embed.Fields = []*discordgo.MessageEmbedField{
		{
			Name:   "Latency",
			Value:  fmt.Sprintf("%dms", s.HeartbeatLatency().Milliseconds()),
			Inline: true,
		},
		{
			Name:   "Status",
			Value:  "✅ Online",
			Inline: true,
		},
		{
			Name:   "Response Time",
			Value:  fmt.Sprintf("%dms", time.Since(startTime).Milliseconds()),
			Inline: true,
		},
	}

	if err := utils.SendInteractionResponse(s, i, embed, nil, false); err != nil {
		log.Printf("Failed to answer ping: %v", err)
	}
}

func startHTTPServer(server *http.Server) {
	log.Printf("Health server starting on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Health server error: %v", err)
	}
}
