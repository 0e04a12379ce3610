// Package topup runs the donation workflow: open a ticket for a shop item,
// verify the transfer slip and deliver the rewards over RCON.
package topup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"topup-go/models"
	"topup-go/rcon"
	"topup-go/utils"
)

const logArea = "TOPUP"

var (
	// ErrUnknownItem is returned when a shop key is not in the catalog.
	ErrUnknownItem = errors.New("unknown shop item")
	// ErrInvalidSteamID rejects ids that are not a 17 digit SteamID64.
	ErrInvalidSteamID = errors.New("SteamID must be the 17 digit number starting with 7656119")
	// ErrBusy means another slip or retry for the same donation is running.
	ErrBusy = errors.New("this donation is already being processed")
	// ErrNotPaid is returned when retrying a donation that has no verified slip.
	ErrNotPaid = errors.New("donation has no verified payment to deliver")
	// ErrVerificationDisabled is returned when no slip API is configured.
	ErrVerificationDisabled = errors.New("automatic slip verification is not configured")
)

// Store is the persistence the workflow needs.
type Store interface {
	CreateDonation(ctx context.Context, d *models.Donation) error
	GetDonation(ctx context.Context, id uuid.UUID) (*models.Donation, error)
	OpenDonationForUser(ctx context.Context, userID string) (*models.Donation, error)
	AttachSlip(ctx context.Context, id uuid.UUID, transRef string, paidAmount float64) error
	CompleteDonation(ctx context.Context, id uuid.UUID, endpointKey string) error
	MarkDeliveryFailed(ctx context.Context, id uuid.UUID, endpointKey, reason string) error
	FailDonation(ctx context.Context, id uuid.UUID, reason string) error
	SlipUsed(ctx context.Context, transRef string) (bool, error)
	RecordCommand(ctx context.Context, entry models.CommandLog) error
}

// SlipVerifier reads a slip image.
type SlipVerifier interface {
	Verify(ctx context.Context, imageURL string) (*utils.Slip, error)
}

// Granter delivers rewards in game. *rcon.Manager implements it.
type Granter interface {
	GivePoints(endpointKey, playerID string, amount int) rcon.CommandResult
	GiveItem(endpointKey, playerID, itemPath string, quantity, quality int, blueprint bool) rcon.CommandResult
	RunCommandSequence(endpointKey, playerID string, templates []string) rcon.CommandResult
	SelectBestAvailable() (rcon.EndpointStatus, bool)
}

// Catalog looks up shop items.
type Catalog interface {
	Find(key string) (models.ShopItem, bool)
}

// Settings holds the receiver details a slip must show.
type Settings struct {
	ReceiverName    string
	ReceiverAccount string
	SlipMaxAge      time.Duration
}

// Outcome is what the ticket channel is told after a slip or a retry.
type Outcome struct {
	Donation  *models.Donation
	Item      models.ShopItem
	Delivered bool
	// Message explains a rejection or a failed delivery.
	Message string
	Result  rcon.CommandResult
}

// Service runs the top-up workflow.
type Service struct {
	store    Store
	verifier SlipVerifier
	granter  Granter
	catalog  Catalog
	settings Settings
	now      func() time.Time

	// OnCompleted is called after a donation is delivered, e.g. to refresh
	// the leaderboard.
	OnCompleted func(d *models.Donation)

	mu         sync.Mutex
	processing map[uuid.UUID]bool
}

// NewService wires the workflow. verifier may be nil, in which case slips
// need a manual Approve.
func NewService(store Store, verifier SlipVerifier, granter Granter, catalog Catalog, settings Settings) *Service {
	if settings.SlipMaxAge <= 0 {
		settings.SlipMaxAge = utils.SlipMaxAge
	}
	return &Service{
		store:      store,
		verifier:   verifier,
		granter:    granter,
		catalog:    catalog,
		settings:   settings,
		now:        time.Now,
		processing: make(map[uuid.UUID]bool),
	}
}

// VerificationEnabled reports whether slips are checked automatically.
func (s *Service) VerificationEnabled() bool {
	return s.verifier != nil
}

// Settings returns the receiver details slips are checked against.
func (s *Service) Settings() Settings {
	return s.settings
}

// ValidSteamID reports whether id looks like a SteamID64.
func ValidSteamID(id string) bool {
	if len(id) != 17 || !strings.HasPrefix(id, "7656119") {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Open creates a pending donation for an item. A user with an open ticket
// gets that donation back instead of a new one.
func (s *Service) Open(ctx context.Context, userID, username, steamID, itemKey, channelID string) (*models.Donation, models.ShopItem, error) {
	steamID = strings.TrimSpace(steamID)
	if !ValidSteamID(steamID) {
		return nil, models.ShopItem{}, ErrInvalidSteamID
	}
	item, ok := s.catalog.Find(itemKey)
	if !ok {
		return nil, models.ShopItem{}, fmt.Errorf("%w: %q", ErrUnknownItem, itemKey)
	}

	if existing, err := s.store.OpenDonationForUser(ctx, userID); err == nil {
		if existingItem, ok := s.catalog.Find(existing.ItemKey); ok {
			return existing, existingItem, nil
		}
		// Item was removed from the catalog since; close the stale ticket.
		if err := s.store.FailDonation(ctx, existing.ID, "item no longer sold"); err != nil {
			utils.BotLogf(logArea, "failed to close stale donation %s: %v", existing.ID, err)
		}
	} else if !errors.Is(err, utils.ErrDonationNotFound) {
		return nil, models.ShopItem{}, fmt.Errorf("failed to look up open donation: %w", err)
	}

	d := &models.Donation{
		UserID:    userID,
		Username:  username,
		SteamID:   steamID,
		ItemKey:   item.Key,
		Amount:    item.Price,
		ChannelID: channelID,
	}
	if err := s.store.CreateDonation(ctx, d); err != nil {
		return nil, models.ShopItem{}, err
	}
	utils.BotLogf(logArea, "opened donation %s for %s: %s (%.2f)", d.ID, username, item.Key, item.Price)
	return d, item, nil
}

// ProcessSlip verifies a slip for a pending donation and delivers the item.
// Rejected slips leave the donation pending so the user can upload another.
// The returned error is only set for infrastructure failures.
func (s *Service) ProcessSlip(ctx context.Context, donationID uuid.UUID, imageURL string) (Outcome, error) {
	if s.verifier == nil {
		return Outcome{}, ErrVerificationDisabled
	}
	if !s.acquire(donationID) {
		return Outcome{}, ErrBusy
	}
	defer s.release(donationID)

	d, item, err := s.load(ctx, donationID)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Donation: d, Item: item}
	if d.Status != models.StatusPending {
		out.Message = fmt.Sprintf("This ticket is already %s.", d.Status)
		return out, nil
	}

	slip, err := s.verifier.Verify(ctx, imageURL)
	if err != nil {
		utils.BotLogf(logArea, "slip for %s unreadable: %v", d.ID, err)
		out.Message = "The slip could not be verified: " + err.Error()
		return out, nil
	}

	used, err := s.store.SlipUsed(ctx, slip.TransRef)
	if err != nil {
		return out, err
	}
	if used {
		utils.BotLogf(logArea, "slip %s for %s was already used", slip.TransRef, d.ID)
		out.Message = "This slip has already been used for another top-up."
		return out, nil
	}

	if err := utils.CheckSlip(slip, utils.SlipExpectation{
		Price:           d.Amount,
		ReceiverName:    s.settings.ReceiverName,
		ReceiverAccount: s.settings.ReceiverAccount,
		MaxAge:          s.settings.SlipMaxAge,
		Now:             s.now(),
	}); err != nil {
		utils.BotLogf(logArea, "slip %s for %s rejected: %v", slip.TransRef, d.ID, err)
		out.Message = "The slip was not accepted: " + err.Error()
		return out, nil
	}

	if err := s.store.AttachSlip(ctx, d.ID, slip.TransRef, slip.Amount); err != nil {
		if errors.Is(err, utils.ErrSlipAlreadyUsed) {
			out.Message = "This slip has already been used for another top-up."
			return out, nil
		}
		return out, err
	}
	d.Status = models.StatusPaid
	d.TransRef = slip.TransRef
	d.PaidAmount = slip.Amount
	utils.BotLogf(logArea, "slip %s accepted for %s (%.2f)", slip.TransRef, d.ID, slip.Amount)

	return s.deliver(ctx, out)
}

// Approve marks a pending donation paid without a slip check and delivers
// it. Used by admins when automatic verification is off or failed.
func (s *Service) Approve(ctx context.Context, donationID uuid.UUID, reference string) (Outcome, error) {
	if !s.acquire(donationID) {
		return Outcome{}, ErrBusy
	}
	defer s.release(donationID)

	d, item, err := s.load(ctx, donationID)
	if err != nil {
		return Outcome{}, err
	}
	if reference = strings.TrimSpace(reference); reference == "" {
		reference = "manual-" + d.ID.String()
	}
	if err := s.store.AttachSlip(ctx, d.ID, reference, d.Amount); err != nil {
		return Outcome{Donation: d, Item: item}, err
	}
	d.Status = models.StatusPaid
	d.TransRef = reference
	d.PaidAmount = d.Amount
	utils.BotLogf(logArea, "donation %s approved manually (%s)", d.ID, reference)

	return s.deliver(ctx, Outcome{Donation: d, Item: item})
}

// Retry re-runs the delivery of a paid donation whose grant failed.
func (s *Service) Retry(ctx context.Context, donationID uuid.UUID) (Outcome, error) {
	if !s.acquire(donationID) {
		return Outcome{}, ErrBusy
	}
	defer s.release(donationID)

	d, item, err := s.load(ctx, donationID)
	if err != nil {
		return Outcome{}, err
	}
	if d.Status != models.StatusPaid {
		return Outcome{Donation: d, Item: item}, fmt.Errorf("%w (status %s)", ErrNotPaid, d.Status)
	}
	utils.BotLogf(logArea, "retrying delivery of %s", d.ID)
	return s.deliver(ctx, Outcome{Donation: d, Item: item})
}

// Cancel closes a donation that was never paid. A donation whose slip is
// being checked cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, donationID uuid.UUID, reason string) error {
	if !s.acquire(donationID) {
		return ErrBusy
	}
	defer s.release(donationID)

	d, err := s.store.GetDonation(ctx, donationID)
	if err != nil {
		return err
	}
	if d.Status != models.StatusPending {
		return fmt.Errorf("cannot cancel a %s donation", d.Status)
	}
	return s.store.FailDonation(ctx, donationID, reason)
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*models.Donation, models.ShopItem, error) {
	d, err := s.store.GetDonation(ctx, id)
	if err != nil {
		return nil, models.ShopItem{}, err
	}
	item, ok := s.catalog.Find(d.ItemKey)
	if !ok {
		return d, models.ShopItem{}, fmt.Errorf("%w: %q", ErrUnknownItem, d.ItemKey)
	}
	return d, item, nil
}

// deliver grants the item and settles the donation.
func (s *Service) deliver(ctx context.Context, out Outcome) (Outcome, error) {
	d := out.Donation
	result := s.grant(ctx, d, out.Item)
	out.Result = result

	if !result.Success {
		utils.BotLogf(logArea, "delivery of %s failed: %s", d.ID, result.Error)
		if err := s.store.MarkDeliveryFailed(ctx, d.ID, result.EndpointKey, result.Error); err != nil {
			return out, err
		}
		d.EndpointKey = result.EndpointKey
		d.FailReason = result.Error
		out.Message = result.Error
		return out, nil
	}

	if err := s.store.CompleteDonation(ctx, d.ID, result.EndpointKey); err != nil {
		return out, err
	}
	d.Status = models.StatusCompleted
	d.EndpointKey = result.EndpointKey
	d.FailReason = ""
	out.Delivered = true
	utils.BotLogf(logArea, "donation %s delivered on %q", d.ID, result.EndpointKey)

	if s.OnCompleted != nil {
		s.OnCompleted(d)
	}
	return out, nil
}

// grant runs points, items and bonus commands in that order and stops at the
// first failure.
func (s *Service) grant(ctx context.Context, d *models.Donation, item models.ShopItem) rcon.CommandResult {
	endpoint := item.Endpoint
	if endpoint == "" {
		best, ok := s.granter.SelectBestAvailable()
		if !ok {
			return rcon.CommandResult{Error: "no game server is available right now"}
		}
		endpoint = best.Key
	}

	combined := rcon.CommandResult{EndpointKey: endpoint}
	var responses []string
	record := func(res rcon.CommandResult) bool {
		s.audit(ctx, d.ID, res)
		if res.Command != "" {
			combined.Steps = append(combined.Steps, rcon.CommandStep{Command: res.Command, Result: res})
		} else {
			combined.Steps = append(combined.Steps, res.Steps...)
		}
		if !res.Success {
			combined.Error = res.Error
			return false
		}
		responses = append(responses, res.Response)
		return true
	}

	if item.Points > 0 {
		if !record(s.granter.GivePoints(endpoint, d.SteamID, item.Points)) {
			return combined
		}
	}
	for _, g := range item.Items {
		if !record(s.granter.GiveItem(endpoint, d.SteamID, g.Path, g.Quantity, g.Quality, g.Blueprint)) {
			return combined
		}
	}
	if len(item.Commands) > 0 {
		if !record(s.granter.RunCommandSequence(endpoint, d.SteamID, item.Commands)) {
			return combined
		}
	}

	combined.Success = true
	combined.Response = strings.Join(responses, "\n")
	return combined
}

func (s *Service) audit(ctx context.Context, donationID uuid.UUID, res rcon.CommandResult) {
	entries := []rcon.CommandResult{res}
	if res.Command == "" && len(res.Steps) > 0 {
		entries = entries[:0]
		for _, step := range res.Steps {
			entries = append(entries, step.Result)
		}
	}

	for _, entry := range entries {
		id := donationID
		err := s.store.RecordCommand(ctx, models.CommandLog{
			EndpointKey: entry.EndpointKey,
			Command:     entry.Command,
			Success:     entry.Success,
			Response:    entry.Response,
			Error:       entry.Error,
			DonationID:  &id,
		})
		if err != nil {
			utils.BotLogf(logArea, "failed to record command for %s: %v", donationID, err)
		}
	}
}

func (s *Service) acquire(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing[id] {
		return false
	}
	s.processing[id] = true
	return true
}

func (s *Service) release(id uuid.UUID) {
	s.mu.Lock()
	delete(s.processing, id)
	s.mu.Unlock()
}
