package rcon

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// PlayerPlaceholder is replaced with the player id in command templates.
const PlayerPlaceholder = "{steamid}"

// DefaultProbeCommand is harmless on every server we target and is used to
// test connectivity.
const DefaultProbeCommand = "ListPlayers"

// Templates holds the command formats used by the composite operations.
// Placeholders: {steamid}, {item}, {quantity}, {quality}, {blueprint},
// {amount}.
type Templates struct {
	GiveItem   string
	GivePoints string
}

// DefaultTemplates targets ARK with the ArkShop plugin.
func DefaultTemplates() Templates {
	return Templates{
		GiveItem:   `GiveItemToSteamID {steamid} "{item}" {quantity} {quality} {blueprint}`,
		GivePoints: "AddPoints {steamid} {amount}",
	}
}

func (t Templates) withDefaults() Templates {
	def := DefaultTemplates()
	if t.GiveItem == "" {
		t.GiveItem = def.GiveItem
	}
	if t.GivePoints == "" {
		t.GivePoints = def.GivePoints
	}
	return t
}

// CommandResult is the outcome of one command or one command sequence.
// Success implies a non-empty Response and an empty Error; failure implies
// the opposite. Command is only set for single commands; sequences list
// theirs in Steps.
type CommandResult struct {
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Response    string        `json:"response,omitempty"`
	EndpointKey string        `json:"endpoint_key"`
	Command     string        `json:"command,omitempty"`
	Steps       []CommandStep `json:"steps,omitempty"`
}

// CommandStep records one command attempted as part of a sequence.
type CommandStep struct {
	Command string        `json:"command"`
	Result  CommandResult `json:"result"`
}

func failure(endpointKey string, err error) CommandResult {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return CommandResult{Success: false, Error: msg, EndpointKey: endpointKey}
}

func (r CommandResult) withCommand(command string) CommandResult {
	r.Command = command
	return r
}

func expand(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for placeholder, value := range values {
		pairs = append(pairs, placeholder, value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// GiveItem grants quantity copies of an item blueprint to a player. A
// quantity below one is treated as one.
func (m *Manager) GiveItem(endpointKey, playerID, itemPath string, quantity, quality int, blueprint bool) CommandResult {
	if strings.TrimSpace(playerID) == "" || strings.TrimSpace(itemPath) == "" {
		return failure(endpointKey, &Error{Kind: ConfigurationError, Endpoint: endpointKey, Msg: "give item needs a player id and an item path"})
	}
	if quantity < 1 {
		quantity = 1
	}
	if quality < 0 {
		quality = 0
	}
	bp := "0"
	if blueprint {
		bp = "1"
	}

	command := expand(m.opts.Templates.GiveItem, map[string]string{
		PlayerPlaceholder: playerID,
		"{item}":          itemPath,
		"{quantity}":      strconv.Itoa(quantity),
		"{quality}":       strconv.Itoa(quality),
		"{blueprint}":     bp,
	})
	return m.ExecuteCommand(endpointKey, command)
}

// GivePoints adds shop points to a player.
func (m *Manager) GivePoints(endpointKey, playerID string, amount int) CommandResult {
	if strings.TrimSpace(playerID) == "" {
		return failure(endpointKey, &Error{Kind: ConfigurationError, Endpoint: endpointKey, Msg: "give points needs a player id"})
	}
	if amount <= 0 {
		return failure(endpointKey, &Error{Kind: ConfigurationError, Endpoint: endpointKey, Msg: fmt.Sprintf("refusing to give %d points", amount)})
	}

	command := expand(m.opts.Templates.GivePoints, map[string]string{
		PlayerPlaceholder: playerID,
		"{amount}":        strconv.Itoa(amount),
	})
	return m.ExecuteCommand(endpointKey, command)
}

// RunCommandSequence runs templates in order with the player id filled in.
// It stops at the first failure so the remaining commands are never sent.
func (m *Manager) RunCommandSequence(endpointKey, playerID string, templates []string) CommandResult {
	if len(templates) == 0 {
		return failure(endpointKey, &Error{Kind: ConfigurationError, Endpoint: endpointKey, Msg: "command sequence is empty"})
	}

	result := CommandResult{EndpointKey: endpointKey}
	responses := make([]string, 0, len(templates))
	for i, template := range templates {
		command := strings.ReplaceAll(template, PlayerPlaceholder, playerID)
		step := m.ExecuteCommand(endpointKey, command)
		result.Steps = append(result.Steps, CommandStep{Command: command, Result: step})

		if !step.Success {
			result.Error = fmt.Sprintf("command %d/%d (%s) failed: %s", i+1, len(templates), command, step.Error)
			m.logger.Logf(logArea, "sequence on %q aborted at step %d/%d", endpointKey, i+1, len(templates))
			return result
		}
		responses = append(responses, step.Response)
	}

	result.Success = true
	result.Response = strings.Join(responses, "\n")
	return result
}

// TestConnectivity sends the probe command to one endpoint.
func (m *Manager) TestConnectivity(key string) CommandResult {
	return m.ExecuteCommand(key, m.opts.ProbeCommand)
}

// ConnectivityStatus is the outcome of probing one endpoint.
type ConnectivityStatus string

const (
	ConnectivityOK       ConnectivityStatus = "ok"
	ConnectivityFailed   ConnectivityStatus = "failed"
	ConnectivityDisabled ConnectivityStatus = "disabled"
)

// ConnectivityCheck is one endpoint's line in a ConnectivityReport.
type ConnectivityCheck struct {
	Key         string             `json:"key"`
	DisplayName string             `json:"display_name"`
	Status      ConnectivityStatus `json:"status"`
	Result      CommandResult      `json:"result"`
}

// ConnectivityReport summarises a probe of every endpoint. Disabled
// endpoints are counted apart from failures.
type ConnectivityReport struct {
	Total     int                 `json:"total"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Disabled  int                 `json:"disabled"`
	Checks    []ConnectivityCheck `json:"checks"`
}

// TestAllConnectivity probes every enabled endpoint concurrently.
func (m *Manager) TestAllConnectivity() ConnectivityReport {
	statuses := m.GetAllEndpoints()
	report := ConnectivityReport{
		Total:  len(statuses),
		Checks: make([]ConnectivityCheck, len(statuses)),
	}

	var wg sync.WaitGroup
	for i, st := range statuses {
		report.Checks[i] = ConnectivityCheck{Key: st.Key, DisplayName: st.DisplayName}
		if !st.Enabled {
			report.Checks[i].Status = ConnectivityDisabled
			continue
		}
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			report.Checks[i].Result = m.TestConnectivity(key)
		}(i, st.Key)
	}
	wg.Wait()

	for i := range report.Checks {
		check := &report.Checks[i]
		switch {
		case check.Status == ConnectivityDisabled:
			report.Disabled++
		case check.Result.Success:
			check.Status = ConnectivityOK
			report.Succeeded++
		default:
			check.Status = ConnectivityFailed
			report.Failed++
		}
	}

	m.logger.Logf(logArea, "connectivity test: %d ok, %d failed, %d disabled",
		report.Succeeded, report.Failed, report.Disabled)
	return report
}
