package models

import (
	"time"

	"github.com/google/uuid"
)

// DonationStatus tracks a donation through the top-up workflow.
type DonationStatus string

const (
	// StatusPending: ticket opened, waiting for a slip.
	StatusPending DonationStatus = "pending"
	// StatusPaid: slip verified but the in-game grant has not gone through.
	StatusPaid DonationStatus = "paid"
	// StatusCompleted: slip verified and rewards delivered.
	StatusCompleted DonationStatus = "completed"
	// StatusFailed: slip rejected or ticket abandoned.
	StatusFailed DonationStatus = "failed"
)

// Donation is one top-up ticket
type Donation struct {
	ID          uuid.UUID      `json:"id"`
	UserID      string         `json:"user_id"`
	Username    string         `json:"username"`
	SteamID     string         `json:"steam_id"`
	ItemKey     string         `json:"item_key"`
	Amount      float64        `json:"amount"`
	ChannelID   string         `json:"channel_id"`
	Status      DonationStatus `json:"status"`
	TransRef    string         `json:"trans_ref,omitempty"`
	PaidAmount  float64        `json:"paid_amount,omitempty"`
	EndpointKey string         `json:"endpoint_key,omitempty"`
	FailReason  string         `json:"fail_reason,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsOpen reports whether the donation can still accept a slip.
func (d *Donation) IsOpen() bool {
	return d.Status == StatusPending
}

// DonorTotal is one leaderboard row.
type DonorTotal struct {
	UserID    string  `json:"user_id"`
	Username  string  `json:"username"`
	Total     float64 `json:"total"`
	Donations int     `json:"donations"`
}

// CommandLog is an audited RCON command.
type CommandLog struct {
	EndpointKey string     `json:"endpoint_key"`
	Command     string     `json:"command"`
	Success     bool       `json:"success"`
	Response    string     `json:"response"`
	Error       string     `json:"error"`
	DonationID  *uuid.UUID `json:"donation_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
