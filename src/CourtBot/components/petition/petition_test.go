package petition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/data"
	"github.com/Opizontas-Studio/courtbot/src/CourtApi/types"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/scheduler"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeSpawner struct {
	mu    sync.Mutex
	calls []uint64
	err   error
}

func (f *fakeSpawner) CreateForPetition(ctx context.Context, p *types.Petition) (*types.Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, p.ID)
	return &types.Vote{ID: uint64(len(f.calls)), PetitionID: p.ID}, nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu      sync.Mutex
	records []string
}

func (f *fakeNotifier) UpdateRecord(ctx context.Context, ref, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, ref+": "+content)
	return nil
}

func (f *fakeNotifier) Notify(ctx context.Context, userID, message string) error { return nil }

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := data.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newMachine(t *testing.T, required int) (*Machine, *fakeSpawner) {
	t.Helper()
	spawner := &fakeSpawner{}
	m := NewMachine(Config{
		DB:        openDB(t),
		Scheduler: scheduler.New(),
		Notifier:  &fakeNotifier{},
		Votes:     spawner,
		Policy: Policy{
			Supporters:        required,
			ImpeachSupporters: required + 2,
			TTL:               time.Hour,
		},
	})
	return m, spawner
}

func submit(t *testing.T, m *Machine, kind types.PetitionKind) *types.Petition {
	t.Helper()
	p, err := m.Submit(context.Background(), SubmitInput{
		Kind:        kind,
		SubjectID:   "subject-1",
		InitiatorID: "initiator-1",
		Payload:     types.PetitionPayload{Reason: "repeated spamming in the debate hall", Duration: 3600},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return p
}

func TestSubmitValidation(t *testing.T) {
	m, _ := newMachine(t, 3)
	ctx := context.Background()

	if _, err := m.Submit(ctx, SubmitInput{Kind: "unknown", SubjectID: "s", InitiatorID: "i",
		Payload: types.PetitionPayload{Reason: "long enough reason here"}}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := m.Submit(ctx, SubmitInput{Kind: types.KindMotion, SubjectID: "s", InitiatorID: "i",
		Payload: types.PetitionPayload{Reason: "short"}}); !errors.Is(err, ErrBadReason) {
		t.Fatalf("expected ErrBadReason, got %v", err)
	}
	if _, err := m.Submit(ctx, SubmitInput{Kind: types.KindMute, SubjectID: "s", InitiatorID: "i",
		Payload: types.PetitionPayload{Reason: "long enough reason here"}}); !errors.Is(err, ErrBadDuration) {
		t.Fatalf("expected ErrBadDuration, got %v", err)
	}
	if _, err := m.Submit(ctx, SubmitInput{Kind: types.KindAppeal, SubjectID: "s", InitiatorID: "i",
		Payload: types.PetitionPayload{Reason: "long enough reason here", SanctionID: 42}}); !errors.Is(err, ErrNoSanction) {
		t.Fatalf("expected ErrNoSanction, got %v", err)
	}
}

func TestToggleSupportInvolutive(t *testing.T) {
	m, spawner := newMachine(t, 3)
	p := submit(t, m, types.KindMute)
	ctx := context.Background()

	count, completed, err := m.ToggleSupport(ctx, p.ID, "voter-a")
	if err != nil || count != 1 || completed {
		t.Fatalf("first toggle: count=%d completed=%v err=%v", count, completed, err)
	}
	count, completed, err = m.ToggleSupport(ctx, p.ID, "voter-a")
	if err != nil || count != 0 || completed {
		t.Fatalf("involutive toggle: count=%d completed=%v err=%v", count, completed, err)
	}

	var got types.Petition
	if err := m.config.DB.First(&got, p.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != types.PetitionInProgress || got.Supporters.Len() != 0 {
		t.Fatalf("status %s supporters %d after involutive toggle", got.Status, got.Supporters.Len())
	}
	if spawner.count() != 0 {
		t.Fatal("no vote should spawn below quorum")
	}
}

func TestQuorumScenario(t *testing.T) {
	m, spawner := newMachine(t, 3)
	p := submit(t, m, types.KindMute)
	ctx := context.Background()

	for i, voter := range []string{"voter-a", "voter-b"} {
		count, completed, err := m.ToggleSupport(ctx, p.ID, voter)
		if err != nil || completed || count != i+1 {
			t.Fatalf("toggle %s: count=%d completed=%v err=%v", voter, count, completed, err)
		}
	}

	count, completed, err := m.ToggleSupport(ctx, p.ID, "voter-c")
	if err != nil || !completed || count != 3 {
		t.Fatalf("quorum toggle: count=%d completed=%v err=%v", count, completed, err)
	}

	var got types.Petition
	m.config.DB.First(&got, p.ID)
	if got.Status != types.PetitionCompleted || got.Result != types.ResultApproved {
		t.Fatalf("got status=%s result=%s", got.Status, got.Result)
	}
	if spawner.count() != 1 {
		t.Fatalf("expected exactly one vote spawn, got %d", spawner.count())
	}

	// The petition is closed: further toggles are rejected and nothing
	// spawns twice.
	if _, _, err := m.ToggleSupport(ctx, p.ID, "voter-d"); !errors.Is(err, ErrPetitionClosed) {
		t.Fatalf("expected ErrPetitionClosed, got %v", err)
	}
	if spawner.count() != 1 {
		t.Fatal("quorum completion must fire exactly once")
	}
}

func TestRemovalNeverTriggersQuorum(t *testing.T) {
	m, spawner := newMachine(t, 2)
	p := submit(t, m, types.KindMotion)
	ctx := context.Background()

	m.ToggleSupport(ctx, p.ID, "voter-a")
	// voter-a leaving brings the count to 0, far from quorum; quorum checks
	// apply to additions only.
	if _, completed, _ := m.ToggleSupport(ctx, p.ID, "voter-a"); completed {
		t.Fatal("removal completed the petition")
	}
	if spawner.count() != 0 {
		t.Fatal("removal spawned a vote")
	}
}

func TestWithdraw(t *testing.T) {
	m, _ := newMachine(t, 3)
	p := submit(t, m, types.KindMotion)
	ctx := context.Background()

	if err := m.Withdraw(ctx, p.ID, "someone-else"); !errors.Is(err, ErrNotInitiator) {
		t.Fatalf("expected ErrNotInitiator, got %v", err)
	}
	if err := m.Withdraw(ctx, p.ID, "initiator-1"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	var got types.Petition
	m.config.DB.First(&got, p.ID)
	if got.Status != types.PetitionCancelled || got.Result != types.ResultWithdrawn {
		t.Fatalf("got status=%s result=%s", got.Status, got.Result)
	}
	if err := m.Withdraw(ctx, p.ID, "initiator-1"); !errors.Is(err, ErrPetitionClosed) {
		t.Fatalf("withdraw after terminal: %v", err)
	}
}

func TestExpire(t *testing.T) {
	m, _ := newMachine(t, 3)
	p := submit(t, m, types.KindMotion)
	ctx := context.Background()

	if err := m.Expire(ctx, p.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	var got types.Petition
	m.config.DB.First(&got, p.ID)
	if got.Status != types.PetitionCompleted || got.Result != types.ResultNoQuorum {
		t.Fatalf("got status=%s result=%s", got.Status, got.Result)
	}

	// A redundant fire against the terminal petition is a silent no-op.
	if err := m.Expire(ctx, p.ID); err != nil {
		t.Fatalf("expire terminal: %v", err)
	}
	m.config.DB.First(&got, p.ID)
	if got.Result != types.ResultNoQuorum {
		t.Fatal("terminal result must not change")
	}
}

func TestPendingListsOnlyNonTerminal(t *testing.T) {
	m, _ := newMachine(t, 3)
	open := submit(t, m, types.KindMotion)
	closed := submit(t, m, types.KindMotion)
	ctx := context.Background()

	if err := m.Withdraw(ctx, closed.ID, "initiator-1"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	entries, err := m.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != open.ID {
		t.Fatalf("pending entries %v, want only petition %d", entries, open.ID)
	}
}
