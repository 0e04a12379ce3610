package utils

import (
	"strings"
	"testing"

	"topup-go/models"
	"topup-go/rcon"
)

func TestFormatAmount(t *testing.T) {
	cases := map[float64]string{
		0:       "0",
		150:     "150",
		1500:    "1,500",
		1234.5:  "1,234.50",
		99.999:  "100",
		1000000: "1,000,000",
	}
	for in, want := range cases {
		if got := FormatAmount(in); got != want {
			t.Errorf("FormatAmount(%v) = %q, want %q", in, got, want)
		}
	}
	if FormatNumber(-1234) != "-1,234" {
		t.Errorf("Unexpected negative formatting %q", FormatNumber(-1234))
	}
}

func TestRewardSummary(t *testing.T) {
	item := models.ShopItem{
		Points:   1500,
		Items:    []models.ItemGrant{{Path: "a"}, {Path: "b"}},
		Commands: []string{"x"},
	}
	if got := RewardSummary(item); got != "1,500 points, 2 items, 1 bonus" {
		t.Errorf("Unexpected summary %q", got)
	}
}

func TestShopOptionsTruncateDescription(t *testing.T) {
	items := []models.ShopItem{{Key: "k", Name: "Pack", Price: 10, Points: 1, Description: strings.Repeat("x", 300), Emoji: "💎"}}
	options := ShopOptions(items, "THB")
	if len(options) != 1 || options[0].Value != "k" {
		t.Fatalf("Unexpected options: %+v", options)
	}
	if n := len([]rune(options[0].Description)); n > 100 {
		t.Errorf("Expected description of at most 100 runes, got %d", n)
	}
	if options[0].Emoji == nil || options[0].Emoji.Name != "💎" {
		t.Error("Expected emoji to be set")
	}
}

func TestEndpointStatusEmbed(t *testing.T) {
	embed := EndpointStatusEmbed([]rcon.EndpointStatus{
		{Key: "a", DisplayName: "Alpha", Enabled: true, Available: true, HealthScore: 100},
		{Key: "b", DisplayName: "Beta", Enabled: false},
		{Key: "c", DisplayName: "Gamma", Enabled: true, Available: false, LastError: "refused"},
	})
	if len(embed.Fields) != 3 {
		t.Fatalf("Expected 3 fields, got %d", len(embed.Fields))
	}
	if !strings.Contains(embed.Fields[1].Value, "disabled") {
		t.Errorf("Expected disabled state, got %q", embed.Fields[1].Value)
	}
	if !strings.Contains(embed.Fields[2].Value, "unavailable") || !strings.Contains(embed.Fields[2].Value, "refused") {
		t.Errorf("Expected unavailable state with error, got %q", embed.Fields[2].Value)
	}

	if empty := EndpointStatusEmbed(nil); !strings.Contains(empty.Description, "No servers") {
		t.Errorf("Expected empty registry message, got %q", empty.Description)
	}
}

func TestLeaderboardEmbed(t *testing.T) {
	embed := LeaderboardEmbed([]models.DonorTotal{
		{UserID: "1", Total: 500, Donations: 2},
		{UserID: "2", Total: 100, Donations: 1},
		{UserID: "3", Total: 50, Donations: 1},
		{UserID: "4", Total: 10, Donations: 1},
	}, "THB")
	lines := strings.Split(strings.TrimSpace(embed.Description), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected 4 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "🥇 <@1>") || !strings.Contains(lines[0], "2 donations") {
		t.Errorf("Unexpected first line %q", lines[0])
	}
	if !strings.HasPrefix(lines[3], "`#4`") {
		t.Errorf("Expected numbered fourth place, got %q", lines[3])
	}

	if empty := LeaderboardEmbed(nil, "THB"); !strings.Contains(empty.Description, "No donations") {
		t.Errorf("Unexpected empty leaderboard %q", empty.Description)
	}
}

func TestTopupResultEmbed(t *testing.T) {
	item := models.ShopItem{Name: "Pack"}
	paid := &models.Donation{Status: models.StatusPaid, SteamID: "1"}
	if e := TopupResultEmbed(paid, item, false, "server down"); e.Color != WarningColor {
		t.Errorf("Expected warning for paid but undelivered, got %x", e.Color)
	}
	done := &models.Donation{Status: models.StatusCompleted, SteamID: "1", TransRef: "R", EndpointKey: "main"}
	if e := TopupResultEmbed(done, item, true, ""); e.Color != SuccessColor || len(e.Fields) != 2 {
		t.Errorf("Unexpected success embed: %+v", e)
	}
	failed := &models.Donation{Status: models.StatusPending}
	if e := TopupResultEmbed(failed, item, false, "too old"); e.Color != ErrorColor || e.Description != "too old" {
		t.Errorf("Unexpected rejection embed: %+v", e)
	}
}
