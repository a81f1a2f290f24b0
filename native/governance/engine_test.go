package governance

import (
	"errors"
	"testing"

	"clearline/core/events"
)

type mockState struct {
	record    *State
	mediators map[[20]byte]*Mediator
	vaults    map[[20]byte]bool
}

func newMockState() *mockState {
	return &mockState{
		mediators: make(map[[20]byte]*Mediator),
		vaults:    make(map[[20]byte]bool),
	}
}

func (m *mockState) GovernanceGet() (*State, bool, error) {
	if m.record == nil {
		return nil, false, nil
	}
	return m.record.Clone(), true, nil
}

func (m *mockState) GovernancePut(st *State) error {
	m.record = st.Clone()
	return nil
}

func (m *mockState) MediatorGet(addr [20]byte) (*Mediator, bool, error) {
	record, ok := m.mediators[addr]
	if !ok {
		return nil, false, nil
	}
	clone := *record
	return &clone, true, nil
}

func (m *mockState) MediatorPut(record *Mediator) error {
	clone := *record
	m.mediators[record.Addr] = &clone
	return nil
}

func (m *mockState) VaultApproved(addr [20]byte) (bool, error) {
	return m.vaults[addr], nil
}

func (m *mockState) VaultSetApproved(addr [20]byte, approved bool) error {
	m.vaults[addr] = approved
	return nil
}

type recordingEmitter struct {
	types []string
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.types = append(r.types, evt.EventType())
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func testPolicy() Policy {
	return Policy{
		ParamDelaySeconds:       172800,
		MediatorActivationDelay: 172800,
		MediatorRevokeCooldown:  172800,
		MaxFeeBps:               1000,
		MaxCancelPenaltyBps:     5000,
	}
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *recordingEmitter, func(int64)) {
	t.Helper()
	engine, err := NewEngine(testPolicy())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	state := newMockState()
	emitter := &recordingEmitter{}
	engine.SetState(state)
	engine.SetEmitter(emitter)
	now := int64(1_000_000)
	engine.SetNowFunc(func() int64 { return now })
	advance := func(delta int64) { now += delta }
	if err := engine.Bootstrap(testAddr(0x01), testAddr(0x02), testAddr(0x03), 250, 500); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return engine, state, emitter, advance
}

func TestBootstrapOnce(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	err := engine.Bootstrap(testAddr(0x09), testAddr(0x09), testAddr(0x09), 100, 100)
	if !errors.Is(err, ErrAlreadyBootstrapped) {
		t.Fatalf("expected ErrAlreadyBootstrapped, got %v", err)
	}
	fee, err := engine.FeeBps()
	if err != nil {
		t.Fatalf("fee bps: %v", err)
	}
	if fee != 250 {
		t.Fatalf("fee bps = %d, want 250", fee)
	}
}

func TestBootstrapRejectsOutOfRangeRates(t *testing.T) {
	engine, err := NewEngine(testPolicy())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetState(newMockState())
	if err := engine.Bootstrap(testAddr(0x01), testAddr(0x02), testAddr(0x03), 1001, 0); !errors.Is(err, ErrBpsOutOfRange) {
		t.Fatalf("expected ErrBpsOutOfRange, got %v", err)
	}
}

func TestAdminTransferTwoStep(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	admin := testAddr(0x01)
	newAdmin := testAddr(0x0A)

	if err := engine.TransferAdmin(newAdmin, newAdmin); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if err := engine.TransferAdmin(admin, newAdmin); err != nil {
		t.Fatalf("transfer admin: %v", err)
	}
	// The old admin retains control until acceptance.
	if ok, err := engine.IsAuthority(admin); err != nil || !ok {
		t.Fatalf("old admin lost authority before acceptance: ok=%v err=%v", ok, err)
	}
	if err := engine.AcceptAdmin(testAddr(0x0B)); !errors.Is(err, ErrNotPendingAdmin) {
		t.Fatalf("expected ErrNotPendingAdmin, got %v", err)
	}
	if err := engine.AcceptAdmin(newAdmin); err != nil {
		t.Fatalf("accept admin: %v", err)
	}
	// The former admin loses the admin-implied pause right after handoff.
	if err := engine.Pause(admin); !errors.Is(err, ErrNotPauser) {
		t.Fatalf("expected ErrNotPauser for former admin, got %v", err)
	}
	snapshot, err := engine.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Admin != newAdmin {
		t.Fatalf("admin not transferred")
	}
	if snapshot.PendingAdmin != ([20]byte{}) {
		t.Fatalf("pending admin not cleared")
	}
}

func TestPauseAuthority(t *testing.T) {
	engine, _, emitter, _ := newTestEngine(t)
	pauser := testAddr(0x02)
	stranger := testAddr(0x0F)

	if err := engine.Pause(stranger); !errors.Is(err, ErrNotPauser) {
		t.Fatalf("expected ErrNotPauser, got %v", err)
	}
	if err := engine.Pause(pauser); err != nil {
		t.Fatalf("pause: %v", err)
	}
	paused, err := engine.Paused()
	if err != nil || !paused {
		t.Fatalf("paused=%v err=%v", paused, err)
	}
	// Pausing again is a no-op and emits nothing further.
	before := len(emitter.types)
	if err := engine.Pause(pauser); err != nil {
		t.Fatalf("repeat pause: %v", err)
	}
	if len(emitter.types) != before {
		t.Fatalf("repeat pause emitted an event")
	}
	// The admin also satisfies the pauser role.
	if err := engine.Unpause(testAddr(0x01)); err != nil {
		t.Fatalf("admin unpause: %v", err)
	}
}

func TestParamChangeTimelock(t *testing.T) {
	engine, _, _, advance := newTestEngine(t)
	admin := testAddr(0x01)

	if _, err := engine.ScheduleParamChange(admin, 1001, 0); !errors.Is(err, ErrBpsOutOfRange) {
		t.Fatalf("expected ErrBpsOutOfRange, got %v", err)
	}
	change, err := engine.ScheduleParamChange(admin, 300, 1000)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if change.ExecuteAfter != 1_000_000+172800 {
		t.Fatalf("execute after = %d", change.ExecuteAfter)
	}
	if _, err := engine.ScheduleParamChange(admin, 100, 100); !errors.Is(err, ErrPendingExists) {
		t.Fatalf("expected ErrPendingExists, got %v", err)
	}
	if err := engine.ExecuteParamChange(admin); !errors.Is(err, ErrTimelockPending) {
		t.Fatalf("expected ErrTimelockPending, got %v", err)
	}
	advance(172800)
	if err := engine.ExecuteParamChange(admin); err != nil {
		t.Fatalf("execute: %v", err)
	}
	fee, _ := engine.FeeBps()
	penalty, _ := engine.CancelPenaltyBps()
	if fee != 300 || penalty != 1000 {
		t.Fatalf("fee=%d penalty=%d, want 300/1000", fee, penalty)
	}
	if err := engine.ExecuteParamChange(admin); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("expected ErrNothingPending after execution, got %v", err)
	}
}

func TestParamChangeCancel(t *testing.T) {
	engine, _, _, advance := newTestEngine(t)
	admin := testAddr(0x01)

	if _, err := engine.ScheduleParamChange(admin, 300, 1000); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := engine.CancelParamChange(admin); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	advance(172800)
	if err := engine.ExecuteParamChange(admin); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("expected ErrNothingPending after cancel, got %v", err)
	}
	fee, _ := engine.FeeBps()
	if fee != 250 {
		t.Fatalf("fee mutated by cancelled change: %d", fee)
	}
}

func TestRegistrySwapTimelock(t *testing.T) {
	engine, _, _, advance := newTestEngine(t)
	admin := testAddr(0x01)
	registry := testAddr(0x20)

	if _, err := engine.ScheduleRegistrySwap(admin, [20]byte{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	if _, err := engine.ScheduleRegistrySwap(admin, registry); err != nil {
		t.Fatalf("schedule swap: %v", err)
	}
	if _, err := engine.ExecuteRegistrySwap(admin); !errors.Is(err, ErrTimelockPending) {
		t.Fatalf("expected ErrTimelockPending, got %v", err)
	}
	advance(172800)
	applied, err := engine.ExecuteRegistrySwap(admin)
	if err != nil {
		t.Fatalf("execute swap: %v", err)
	}
	if applied != registry {
		t.Fatalf("swap returned wrong registry")
	}
	snapshot, _ := engine.Snapshot()
	if snapshot.Registry != registry {
		t.Fatalf("registry not recorded")
	}
}

func TestMediatorActivationDelay(t *testing.T) {
	engine, _, _, advance := newTestEngine(t)
	admin := testAddr(0x01)
	mediator := testAddr(0x30)

	record, err := engine.ApproveMediator(admin, mediator)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if active, _ := engine.MediatorActive(mediator, 1_000_000); active {
		t.Fatalf("mediator active before delay")
	}
	advance(172800)
	if active, _ := engine.MediatorActive(mediator, 1_000_000+172800); !active {
		t.Fatalf("mediator inactive after delay")
	}
	// Re-affirming an approved mediator keeps the original activation time.
	again, err := engine.ApproveMediator(admin, mediator)
	if err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	if again.ActivatesAt != record.ActivatesAt {
		t.Fatalf("re-approval reset the timelock: %d vs %d", again.ActivatesAt, record.ActivatesAt)
	}
}

func TestMediatorRevokeCooldownAndReapproval(t *testing.T) {
	engine, _, _, advance := newTestEngine(t)
	admin := testAddr(0x01)
	mediator := testAddr(0x30)

	if _, err := engine.ApproveMediator(admin, mediator); err != nil {
		t.Fatalf("approve: %v", err)
	}
	advance(172800)
	if active, _ := engine.MediatorActive(mediator, 1_000_000+172800); !active {
		t.Fatalf("mediator should be active")
	}
	if err := engine.RevokeMediator(admin, mediator); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if active, _ := engine.MediatorActive(mediator, 1_000_000+172800); active {
		t.Fatalf("revoked mediator still active")
	}
	// Too soon: the cooldown blocks re-approval.
	advance(100)
	if _, err := engine.ApproveMediator(admin, mediator); !errors.Is(err, ErrMediatorCooldown) {
		t.Fatalf("expected ErrMediatorCooldown, got %v", err)
	}
	// After the cooldown the mediator gets a brand new activation delay, not
	// the stale elapsed one.
	advance(172800)
	record, err := engine.ApproveMediator(admin, mediator)
	if err != nil {
		t.Fatalf("re-approve after cooldown: %v", err)
	}
	now := int64(1_000_000 + 172800 + 100 + 172800)
	if record.ActivatesAt != now+172800 {
		t.Fatalf("activation = %d, want %d", record.ActivatesAt, now+172800)
	}
	if active, _ := engine.MediatorActive(mediator, now); active {
		t.Fatalf("re-approved mediator active without a fresh delay")
	}
	if active, _ := engine.MediatorActive(mediator, now+172800); !active {
		t.Fatalf("mediator inactive after the fresh delay elapsed")
	}
}

func TestRevokeUnknownMediator(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	if err := engine.RevokeMediator(testAddr(0x01), testAddr(0x44)); !errors.Is(err, ErrMediatorUnknown) {
		t.Fatalf("expected ErrMediatorUnknown, got %v", err)
	}
}

func TestVaultAllowlist(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	admin := testAddr(0x01)
	vault := testAddr(0x50)

	if ok, _ := engine.VaultApproved(vault); ok {
		t.Fatalf("vault approved before listing")
	}
	if err := engine.ApproveVault(testAddr(0x0F), vault); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if err := engine.ApproveVault(admin, vault); err != nil {
		t.Fatalf("approve vault: %v", err)
	}
	if ok, _ := engine.VaultApproved(vault); !ok {
		t.Fatalf("vault not approved")
	}
	if err := engine.RevokeVault(admin, vault); err != nil {
		t.Fatalf("revoke vault: %v", err)
	}
	if ok, _ := engine.VaultApproved(vault); ok {
		t.Fatalf("vault still approved after revoke")
	}
}

func TestIsAuthority(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	cases := []struct {
		caller [20]byte
		want   bool
	}{
		{testAddr(0x01), true},
		{testAddr(0x02), true},
		{testAddr(0x0F), false},
	}
	for _, tc := range cases {
		got, err := engine.IsAuthority(tc.caller)
		if err != nil {
			t.Fatalf("is authority: %v", err)
		}
		if got != tc.want {
			t.Fatalf("authority(%x) = %v, want %v", tc.caller[:1], got, tc.want)
		}
	}
}
