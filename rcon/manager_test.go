package rcon

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoadEndpointsKeepsOnlyComplete(t *testing.T) {
	m := NewManager(&fakeDialer{}, nil, nil, testOptions())

	count := m.LoadEndpoints(map[string]RawEndpoint{
		"full":        {Host: "10.0.0.1", Port: 27020, Password: "pw", Enabled: true},
		"off":         {Host: "10.0.0.2", Port: 27020, Password: "pw", Enabled: false},
		"no-host":     {Port: 27020, Password: "pw", Enabled: true},
		"no-port":     {Host: "10.0.0.3", Password: "pw", Enabled: true},
		"bad-port":    {Host: "10.0.0.3", Port: 70000, Password: "pw", Enabled: true},
		"no-password": {Host: "10.0.0.4", Port: 27020, Enabled: true},
	})
	if count != 2 {
		t.Fatalf("Expected 2 usable endpoints, got %d", count)
	}

	all := m.GetAllEndpoints()
	if len(all) != 2 || all[0].Key != "full" || all[1].Key != "off" {
		t.Fatalf("Unexpected registry contents: %+v", all)
	}

	off, ok := m.GetEndpointStatus("off")
	if !ok {
		t.Fatal("Expected disabled endpoint to stay in the registry")
	}
	if off.Available {
		t.Error("Expected disabled endpoint to be unavailable")
	}
	if off.DisplayName != "off" {
		t.Errorf("Expected display name to default to the key, got %q", off.DisplayName)
	}
	if _, ok := m.GetEndpointStatus("no-password"); ok {
		t.Error("Expected endpoint without password to be dropped")
	}
}

func TestStatusMasksPassword(t *testing.T) {
	m := newTestManager(&fakeDialer{}, mainEndpoint())
	st, _ := m.GetEndpointStatus("main")
	if st.Password != "se****" {
		t.Errorf("Expected masked password, got %q", st.Password)
	}
}

func TestExecuteWithoutEndpointsFailsFast(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, map[string]RawEndpoint{"broken": {Host: "x"}})

	if m.Initialized() {
		t.Fatal("Expected manager without usable endpoints to be uninitialized")
	}
	res := m.ExecuteCommand("broken", "ListPlayers")
	if res.Success || !strings.Contains(res.Error, "not initialized") {
		t.Errorf("Expected not initialized error, got %+v", res)
	}
	if d.dialCount() != 0 {
		t.Errorf("Expected no dial attempts, got %d", d.dialCount())
	}
}

func TestExecuteUnknownKeyNeverDials(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, mainEndpoint())

	res := m.ExecuteCommand("nope", "ListPlayers")
	if res.Success {
		t.Fatal("Expected failure for unknown endpoint")
	}
	if !strings.Contains(res.Error, `"nope"`) || !strings.Contains(res.Error, "main") {
		t.Errorf("Expected error to name the key and the known keys, got %q", res.Error)
	}
	if d.dialCount() != 0 {
		t.Errorf("Expected no dial attempts, got %d", d.dialCount())
	}
}

func TestExecuteDisabledEndpoint(t *testing.T) {
	d := &fakeDialer{}
	raw := mainEndpoint()
	e := raw["main"]
	e.Enabled = false
	raw["main"] = e
	m := newTestManager(d, raw)

	res := m.ExecuteCommand("main", "ListPlayers")
	if res.Success || !strings.Contains(res.Error, "disabled") {
		t.Errorf("Expected disabled error, got %+v", res)
	}
	st, _ := m.GetEndpointStatus("main")
	if st.TotalCommands != 0 {
		t.Errorf("Expected gate-rejected call not to count, got %d", st.TotalCommands)
	}
	if d.dialCount() != 0 {
		t.Errorf("Expected no dial attempts, got %d", d.dialCount())
	}
}

func TestExecuteEmptyCommandIsRejected(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, mainEndpoint())

	res := m.ExecuteCommand("main", "   ")
	if res.Success || res.Error == "" {
		t.Fatalf("Expected failure for empty command, got %+v", res)
	}
	st, _ := m.GetEndpointStatus("main")
	if st.TotalCommands != 0 || st.ConsecutiveFailures != 0 {
		t.Errorf("Expected empty command to leave counters alone, got %+v", st)
	}
	if d.dialCount() != 0 {
		t.Errorf("Expected no dial attempts, got %d", d.dialCount())
	}
}

func TestExecuteSuccess(t *testing.T) {
	d := &fakeDialer{execute: func(cmd string) (interface{}, error) {
		return "Players connected (0)\n", nil
	}}
	m := newTestManager(d, mainEndpoint())

	res := m.ExecuteCommand("main", "ListPlayers")
	if !res.Success || res.Error != "" {
		t.Fatalf("Expected success, got %+v", res)
	}
	if res.Response != "Players connected (0)" {
		t.Errorf("Expected trimmed response, got %q", res.Response)
	}
	if res.EndpointKey != "main" {
		t.Errorf("Expected endpoint key main, got %q", res.EndpointKey)
	}

	st, _ := m.GetEndpointStatus("main")
	if st.TotalCommands != 1 || st.SuccessfulCommands != 1 {
		t.Errorf("Expected 1/1 commands, got %d/%d", st.SuccessfulCommands, st.TotalCommands)
	}
	if st.LastConnectionAt == nil {
		t.Error("Expected last connection time to be recorded")
	}
	if m.InFlight() != 0 {
		t.Errorf("Expected no in-flight sessions, got %d", m.InFlight())
	}
}

func TestEmptyAcknowledgementUsesSentinel(t *testing.T) {
	d := &fakeDialer{execute: func(string) (interface{}, error) { return "", nil }}
	m := newTestManager(d, mainEndpoint())

	res := m.ExecuteCommand("main", "SaveWorld")
	if !res.Success || res.Response != EmptyResponse {
		t.Errorf("Expected sentinel response, got %+v", res)
	}
}

func TestConsecutiveFailuresGateExecution(t *testing.T) {
	d := &fakeDialer{fail: true}
	m := newTestManager(d, mainEndpoint())
	attempts := testOptions().Retry.Attempts()

	for n := 1; n <= 3; n++ {
		res := m.ExecuteCommand("main", "ListPlayers")
		if res.Success {
			t.Fatalf("Call %d: expected failure", n)
		}
		st, _ := m.GetEndpointStatus("main")
		if st.ConsecutiveFailures != n {
			t.Errorf("Call %d: expected %d consecutive failures, got %d", n, n, st.ConsecutiveFailures)
		}
		if d.dialCount() != n*attempts {
			t.Errorf("Call %d: expected %d dials, got %d", n, n*attempts, d.dialCount())
		}
	}

	res := m.ExecuteCommand("main", "ListPlayers")
	if res.Success || !strings.Contains(res.Error, "too many consecutive failures") {
		t.Errorf("Expected fail-fast rejection, got %+v", res)
	}
	if d.dialCount() != 3*attempts {
		t.Errorf("Expected no further dials, got %d", d.dialCount())
	}

	st, _ := m.GetEndpointStatus("main")
	if st.Available {
		t.Error("Expected endpoint to be unavailable past the threshold")
	}
	if st.TotalCommands != 3 {
		t.Errorf("Expected 3 counted commands, got %d", st.TotalCommands)
	}
	if best, ok := m.SelectBestAvailable(); ok {
		t.Errorf("Expected no available endpoint, got %q", best.Key)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	var mu sync.Mutex
	failing := true
	d := &fakeDialer{execute: func(string) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return nil, &MockError{Message: "connection reset by peer"}
		}
		return "done", nil
	}}
	m := newTestManager(d, mainEndpoint())

	m.ExecuteCommand("main", "ListPlayers")
	m.ExecuteCommand("main", "ListPlayers")
	if st, _ := m.GetEndpointStatus("main"); st.ConsecutiveFailures != 2 || st.LastError == "" {
		t.Fatalf("Expected 2 failures with last error, got %+v", st)
	}

	mu.Lock()
	failing = false
	mu.Unlock()

	if res := m.ExecuteCommand("main", "ListPlayers"); !res.Success {
		t.Fatalf("Expected success, got %+v", res)
	}
	st, _ := m.GetEndpointStatus("main")
	if st.ConsecutiveFailures != 0 || st.LastError != "" {
		t.Errorf("Expected streak and last error cleared, got %+v", st)
	}
	if st.TotalCommands != 3 || st.SuccessfulCommands != 1 {
		t.Errorf("Expected 1/3 commands, got %d/%d", st.SuccessfulCommands, st.TotalCommands)
	}
}

func TestCounterConsistency(t *testing.T) {
	calls := 0
	d := &fakeDialer{execute: func(string) (interface{}, error) {
		calls++
		if calls%2 == 0 {
			return nil, &MockError{Message: "broken pipe"}
		}
		return "ok", nil
	}}
	m := newTestManager(d, mainEndpoint())

	var previous int64
	for i := 0; i < 6; i++ {
		m.ExecuteCommand("main", "ListPlayers")
		m.ExecuteCommand("missing", "ListPlayers")

		st, _ := m.GetEndpointStatus("main")
		if st.TotalCommands != previous+1 {
			t.Errorf("Expected total to grow by exactly one, got %d after %d", st.TotalCommands, previous)
		}
		if st.TotalCommands < st.SuccessfulCommands {
			t.Errorf("Total %d below successful %d", st.TotalCommands, st.SuccessfulCommands)
		}
		previous = st.TotalCommands
	}
}

func TestSessionClosedOnceWhenExecuteFails(t *testing.T) {
	d := &fakeDialer{execute: func(string) (interface{}, error) {
		return nil, &MockError{Message: "write: broken pipe"}
	}}
	m := newTestManager(d, mainEndpoint())

	res := m.ExecuteCommand("main", "ListPlayers")
	if res.Success || res.Response != "" || res.Error == "" {
		t.Fatalf("Expected a clean failure result, got %+v", res)
	}

	sessions := d.allSessions()
	if len(sessions) != 1 {
		t.Fatalf("Expected exactly one session, got %d", len(sessions))
	}
	closes, terminates := sessions[0].counts()
	if closes != 1 {
		t.Errorf("Expected close to run once, got %d", closes)
	}
	if terminates != 0 {
		t.Errorf("Expected no forced termination, got %d", terminates)
	}
	if m.InFlight() != 0 {
		t.Errorf("Expected no in-flight sessions, got %d", m.InFlight())
	}
}

func TestPanickingTransportBecomesFailure(t *testing.T) {
	d := &fakeDialer{execute: func(string) (interface{}, error) {
		panic("decoder exploded")
	}}
	m := newTestManager(d, mainEndpoint())

	res := m.ExecuteCommand("main", "ListPlayers")
	if res.Success || !strings.Contains(res.Error, "panicked") {
		t.Errorf("Expected panic converted to failure, got %+v", res)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	d := &fakeDialer{failFirst: 2}
	m := newTestManager(d, mainEndpoint())

	res := m.ExecuteCommand("main", "ListPlayers")
	if !res.Success {
		t.Fatalf("Expected success on third attempt, got %+v", res)
	}
	if d.dialCount() != 3 {
		t.Errorf("Expected 3 dial attempts, got %d", d.dialCount())
	}
}

func TestRetryExhausted(t *testing.T) {
	d := &fakeDialer{fail: true}
	m := newTestManager(d, mainEndpoint())

	res := m.ExecuteCommand("main", "ListPlayers")
	if res.Success {
		t.Fatal("Expected failure")
	}
	if d.dialCount() != 3 {
		t.Errorf("Expected exactly maxRetries+1 = 3 attempts, got %d", d.dialCount())
	}
	if !strings.Contains(res.Error, "connection to") || !strings.Contains(res.Error, "attempt 3") {
		t.Errorf("Expected last connection error in message, got %q", res.Error)
	}
}

func TestRetryLogsBackoff(t *testing.T) {
	var slept []time.Duration
	opts := testOptions()
	opts.Retry = RetryPolicy{
		MaxRetries: 2,
		Backoff:    LinearBackoff(time.Second),
		Sleep:      func(d time.Duration) { slept = append(slept, d) },
	}
	logger := &recordingLogger{}
	m := NewManager(&fakeDialer{fail: true}, staticSource(mainEndpoint()), logger, opts)

	m.ExecuteCommand("main", "ListPlayers")
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Errorf("Expected 1s then 2s backoff, got %v", slept)
	}

	retries := 0
	for _, line := range logger.all() {
		if strings.Contains(line, "scheduled") {
			retries++
		}
	}
	if retries != 2 {
		t.Errorf("Expected 2 retry log lines, got %d", retries)
	}
}

func TestConnectTimeoutIsDistinct(t *testing.T) {
	opts := testOptions()
	opts.Retry = RetryPolicy{MaxRetries: 0, Backoff: noDelay}
	opts.ConnectTimeout = 20 * time.Millisecond
	d := &fakeDialer{dialDelay: 500 * time.Millisecond}
	m := NewManager(d, staticSource(mainEndpoint()), nil, opts)

	res := m.ExecuteCommand("main", "ListPlayers")
	if res.Success {
		t.Fatal("Expected connect timeout")
	}
	if !strings.Contains(res.Error, "timed out") || !strings.Contains(res.Error, "unreachable") {
		t.Errorf("Expected connect timeout wording, got %q", res.Error)
	}
}

func TestCommandTimeoutTerminatesSession(t *testing.T) {
	opts := testOptions()
	opts.CommandTimeout = 30 * time.Millisecond
	d := &fakeDialer{}
	d.execute = func(string) (interface{}, error) {
		sessions := d.allSessions()
		<-sessions[len(sessions)-1].unblock
		return nil, errTerminated
	}
	m := NewManager(d, staticSource(mainEndpoint()), nil, opts)

	res := m.ExecuteCommand("main", "ListPlayers")
	if res.Success {
		t.Fatal("Expected command timeout")
	}
	if !strings.Contains(res.Error, "did not respond") {
		t.Errorf("Expected command timeout wording, got %q", res.Error)
	}

	closes, terminates := d.allSessions()[0].counts()
	if terminates != 1 {
		t.Errorf("Expected one forced termination, got %d", terminates)
	}
	if closes != 0 {
		t.Errorf("Expected no graceful close after termination, got %d", closes)
	}
	if m.InFlight() != 0 {
		t.Errorf("Expected no in-flight sessions, got %d", m.InFlight())
	}
}

func TestSlowCloseIsForcedWithoutFailingCommand(t *testing.T) {
	opts := testOptions()
	opts.CloseTimeout = 20 * time.Millisecond
	d := &fakeDialer{closeDelay: time.Second}
	m := NewManager(d, staticSource(mainEndpoint()), nil, opts)

	res := m.ExecuteCommand("main", "ListPlayers")
	if !res.Success {
		t.Fatalf("Expected close timeout not to fail the command, got %+v", res)
	}
	closes, terminates := d.allSessions()[0].counts()
	if closes != 1 || terminates != 1 {
		t.Errorf("Expected 1 close and 1 termination, got %d and %d", closes, terminates)
	}
}

func TestCloseErrorDoesNotOverrideSuccess(t *testing.T) {
	d := &fakeDialer{closeErr: &MockError{Message: "close: connection reset"}}
	logger := &recordingLogger{}
	m := NewManager(d, staticSource(mainEndpoint()), logger, testOptions())

	res := m.ExecuteCommand("main", "ListPlayers")
	if !res.Success {
		t.Fatalf("Expected success despite close error, got %+v", res)
	}
	found := false
	for _, line := range logger.all() {
		if strings.Contains(line, "close error") {
			found = true
		}
	}
	if !found {
		t.Error("Expected close error to be logged")
	}
}

func TestRunCommandSequenceStopsAtFirstFailure(t *testing.T) {
	d := &fakeDialer{execute: func(cmd string) (interface{}, error) {
		if strings.HasPrefix(cmd, "B") {
			return nil, &MockError{Message: "unknown command"}
		}
		return "ran " + cmd, nil
	}}
	m := newTestManager(d, mainEndpoint())

	res := m.RunCommandSequence("main", "7656119", []string{"A {steamid}", "B {steamid}", "C {steamid}"})
	if res.Success {
		t.Fatal("Expected sequence failure")
	}
	if len(res.Steps) != 2 {
		t.Fatalf("Expected 2 attempted steps, got %d", len(res.Steps))
	}
	if res.Steps[0].Command != "A 7656119" || res.Steps[1].Command != "B 7656119" {
		t.Errorf("Unexpected steps: %+v", res.Steps)
	}
	if !res.Steps[0].Result.Success || res.Steps[1].Result.Success {
		t.Errorf("Expected A to succeed and B to fail: %+v", res.Steps)
	}
	if !strings.Contains(res.Error, "2/3") {
		t.Errorf("Expected failing step in error, got %q", res.Error)
	}

	var sent []string
	for _, s := range d.allSessions() {
		sent = append(sent, s.sent()...)
	}
	for _, cmd := range sent {
		if strings.HasPrefix(cmd, "C") {
			t.Errorf("Command C must never be sent, sent %v", sent)
		}
	}
}

func TestRunCommandSequenceAggregatesResponses(t *testing.T) {
	d := &fakeDialer{execute: func(cmd string) (interface{}, error) { return "ok " + cmd, nil }}
	m := newTestManager(d, mainEndpoint())

	res := m.RunCommandSequence("main", "42", []string{"one {steamid}", "two"})
	if !res.Success {
		t.Fatalf("Expected success, got %+v", res)
	}
	if res.Response != "ok one 42\nok two" {
		t.Errorf("Unexpected aggregated response %q", res.Response)
	}

	if empty := m.RunCommandSequence("main", "42", nil); empty.Success {
		t.Error("Expected empty sequence to fail")
	}
}

func TestCompositeCommandsFormatting(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, mainEndpoint())

	m.GivePoints("main", "76561190000000001", 500)
	m.GiveItem("main", "76561190000000001", "Blueprint'/Game/Item.Item'", 0, 3, true)

	var sent []string
	for _, s := range d.allSessions() {
		sent = append(sent, s.sent()...)
	}
	want := []string{
		"AddPoints 76561190000000001 500",
		`GiveItemToSteamID 76561190000000001 "Blueprint'/Game/Item.Item'" 1 3 1`,
	}
	if len(sent) != len(want) {
		t.Fatalf("Expected %d commands, got %v", len(want), sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("Command %d: expected %q, got %q", i, want[i], sent[i])
		}
	}

	if res := m.GivePoints("main", "76561190000000001", 0); res.Success {
		t.Error("Expected zero points to be refused")
	}
	if res := m.GiveItem("main", "", "x", 1, 0, false); res.Success {
		t.Error("Expected missing player id to be refused")
	}
}

func TestHealthScore(t *testing.T) {
	cases := []struct {
		total, successful int64
		failures          int
		want              int
	}{
		{10, 8, 1, 70},
		{0, 0, 0, 100},
		{0, 0, 2, 80},
		{4, 4, 0, 100},
		{2, 0, 5, 0},
	}
	for _, c := range cases {
		if got := HealthScore(c.total, c.successful, c.failures); got != c.want {
			t.Errorf("HealthScore(%d, %d, %d) = %d, want %d", c.total, c.successful, c.failures, got, c.want)
		}
	}
}

func TestSelectBestAvailable(t *testing.T) {
	d := &fakeDialer{execute: func(cmd string) (interface{}, error) {
		if cmd == "fail" {
			return nil, &MockError{Message: "nope"}
		}
		return "ok", nil
	}}
	m := newTestManager(d, map[string]RawEndpoint{
		"alpha": {Host: "a", Port: 1, Password: "p", Enabled: true},
		"beta":  {Host: "b", Port: 1, Password: "p", Enabled: true},
		"gamma": {Host: "c", Port: 1, Password: "p", Enabled: false},
	})

	best, ok := m.SelectBestAvailable()
	if !ok || best.Key != "alpha" {
		t.Fatalf("Expected first endpoint on a tie, got %q (%t)", best.Key, ok)
	}

	m.ExecuteCommand("alpha", "fail")
	best, ok = m.SelectBestAvailable()
	if !ok || best.Key != "beta" {
		t.Errorf("Expected beta after alpha failed, got %q", best.Key)
	}
}

func TestResetFailures(t *testing.T) {
	d := &fakeDialer{fail: true}
	m := newTestManager(d, map[string]RawEndpoint{
		"a": {Host: "a", Port: 1, Password: "p", Enabled: true},
		"b": {Host: "b", Port: 1, Password: "p", Enabled: true},
	})
	for i := 0; i < 3; i++ {
		m.ExecuteCommand("a", "x")
		m.ExecuteCommand("b", "x")
	}

	if !m.ResetFailures("a") {
		t.Fatal("Expected reset of a known endpoint to succeed")
	}
	if m.ResetFailures("zzz") {
		t.Error("Expected reset of unknown endpoint to fail")
	}
	st, _ := m.GetEndpointStatus("a")
	if st.ConsecutiveFailures != 0 || !st.Available || st.LastError != "" {
		t.Errorf("Expected a to be healthy again, got %+v", st)
	}
	if st.TotalCommands != 3 {
		t.Errorf("Expected counters to survive a reset, got %d", st.TotalCommands)
	}

	if n := m.ResetAllFailures(); n != 2 {
		t.Errorf("Expected 2 endpoints reset, got %d", n)
	}
	if st, _ := m.GetEndpointStatus("b"); st.ConsecutiveFailures != 0 {
		t.Errorf("Expected b reset, got %d", st.ConsecutiveFailures)
	}
}

func TestTestAllConnectivity(t *testing.T) {
	d := &fakeDialer{
		failHosts: map[string]bool{"c": true},
		execute:   func(string) (interface{}, error) { return "", nil },
	}
	m := newTestManager(d, map[string]RawEndpoint{
		"ok":   {Host: "a", Port: 1, Password: "p", Enabled: true},
		"off":  {Host: "b", Port: 1, Password: "p", Enabled: false},
		"down": {Host: "c", Port: 1, Password: "p", Enabled: true},
	})

	report := m.TestAllConnectivity()
	if report.Total != 3 || report.Succeeded != 1 || report.Failed != 1 || report.Disabled != 1 {
		t.Fatalf("Unexpected report counts: %+v", report)
	}
	want := map[string]ConnectivityStatus{"ok": ConnectivityOK, "off": ConnectivityDisabled, "down": ConnectivityFailed}
	for _, check := range report.Checks {
		if check.Status != want[check.Key] {
			t.Errorf("Endpoint %s: expected %s, got %s", check.Key, want[check.Key], check.Status)
		}
	}

	single := m.TestConnectivity("ok")
	if !single.Success || single.Response != EmptyResponse {
		t.Errorf("Expected probe success with sentinel response, got %+v", single)
	}
}

func TestReloadReplacesState(t *testing.T) {
	raw := mainEndpoint()
	d := &fakeDialer{fail: true}
	m := newTestManager(d, raw)

	m.ExecuteCommand("main", "x")
	if st, _ := m.GetEndpointStatus("main"); st.ConsecutiveFailures != 1 {
		t.Fatalf("Expected 1 failure before reload, got %d", st.ConsecutiveFailures)
	}

	if err := m.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	st, _ := m.GetEndpointStatus("main")
	if st.ConsecutiveFailures != 0 || st.TotalCommands != 0 {
		t.Errorf("Expected fresh state after reload, got %+v", st)
	}
}

func TestReloadErrorKeepsRegistry(t *testing.T) {
	calls := 0
	source := func() (map[string]RawEndpoint, error) {
		calls++
		if calls > 1 {
			return nil, &MockError{Message: "servers.yaml: permission denied"}
		}
		return mainEndpoint(), nil
	}
	m := NewManager(&fakeDialer{}, source, nil, testOptions())

	if err := m.Reload(); err == nil {
		t.Fatal("Expected reload error")
	}
	if _, ok := m.GetEndpointStatus("main"); !ok {
		t.Error("Expected registry to survive a failed reload")
	}
}

func TestShutdownTerminatesInFlightSessions(t *testing.T) {
	started := make(chan struct{})
	d := &fakeDialer{}
	d.execute = func(string) (interface{}, error) {
		close(started)
		<-d.allSessions()[0].unblock
		return nil, errTerminated
	}
	opts := testOptions()
	opts.CommandTimeout = 5 * time.Second
	m := NewManager(d, staticSource(mainEndpoint()), nil, opts)

	done := make(chan CommandResult, 1)
	go func() { done <- m.ExecuteCommand("main", "ListPlayers") }()

	<-started
	m.Shutdown()

	select {
	case res := <-done:
		if res.Success {
			t.Error("Expected in-flight command to fail after shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("In-flight command did not return after shutdown")
	}

	if _, terminates := d.allSessions()[0].counts(); terminates == 0 {
		t.Error("Expected shutdown to terminate the session")
	}
	if res := m.ExecuteCommand("main", "ListPlayers"); !strings.Contains(res.Error, "not initialized") {
		t.Errorf("Expected not initialized after shutdown, got %q", res.Error)
	}
}

func TestConcurrentCommandsKeepCounters(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, mainEndpoint())

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.ExecuteCommand("main", "ListPlayers")
		}()
	}
	wg.Wait()

	st, _ := m.GetEndpointStatus("main")
	if st.TotalCommands != n || st.SuccessfulCommands != n {
		t.Errorf("Expected %d/%d, got %d/%d", n, n, st.SuccessfulCommands, st.TotalCommands)
	}
	if d.dialCount() != n {
		t.Errorf("Expected one session per command, got %d dials", d.dialCount())
	}
}
