package utils

import "sync"

// In-memory alert suppression (resets on restart)
var (
	lastFailureAlerted = make(map[string]string)
	notifMutex         sync.Mutex
)

// ShouldAlertDeliveryFailure returns true the first time a donation fails
// with a given reason, so admins are pinged once per distinct problem.
func ShouldAlertDeliveryFailure(donationID, reason string) bool {
	notifMutex.Lock()
	defer notifMutex.Unlock()
	prev, ok := lastFailureAlerted[donationID]
	if !ok || prev != reason {
		lastFailureAlerted[donationID] = reason
		return true
	}
	return false
}

// ClearDeliveryAlert forgets a donation once it is delivered or closed.
func ClearDeliveryAlert(donationID string) {
	notifMutex.Lock()
	delete(lastFailureAlerted, donationID)
	notifMutex.Unlock()
}
