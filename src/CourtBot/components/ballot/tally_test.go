package ballot

import (
	"context"
	"errors"
	"fmt"
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

type fakeRoster struct {
	mu    sync.Mutex
	count int
}

func (f *fakeRoster) EligibleVoterCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, nil
}

func (f *fakeRoster) set(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count = n
}

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

func testPolicy() Policy {
	return Policy{
		Duration:    time.Hour,
		QuorumFloor: 2,
		QuorumPct:   0.10,
		HighBand:    0.60,
		MidBand:     0.50,
	}
}

func newTally(t *testing.T, eligible int) (*Tally, *fakeRoster) {
	t.Helper()
	roster := &fakeRoster{count: eligible}
	tally := NewTally(Config{
		DB:        openDB(t),
		Scheduler: scheduler.New(),
		Roster:    roster,
		Policy:    testPolicy(),
	})
	return tally, roster
}

func seedVote(t *testing.T, tally *Tally, kind types.PetitionKind) *types.Vote {
	t.Helper()
	payload, _ := types.PetitionPayload{Reason: "repeated rule violations", Duration: 3600}.Encode()
	p := &types.Petition{
		Kind:               kind,
		SubjectID:          "subject-1",
		InitiatorID:        "initiator-1",
		Status:             types.PetitionCompleted,
		Result:             types.ResultApproved,
		Supporters:         types.NewStringSet("a", "b", "c"),
		RequiredSupporters: 3,
		Payload:            payload,
		ExpireAt:           time.Now().Add(time.Hour),
	}
	if err := tally.config.DB.Create(p).Error; err != nil {
		t.Fatalf("seed petition: %v", err)
	}
	v, err := tally.CreateForPetition(context.Background(), p)
	if err != nil {
		t.Fatalf("create vote: %v", err)
	}
	return v
}

func castMany(t *testing.T, tally *Tally, voteID uint64, side Side, prefix string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := tally.CastBallot(context.Background(), voteID, fmt.Sprintf("%s-%d", prefix, i), side); err != nil {
			t.Fatalf("cast %s-%d: %v", prefix, i, err)
		}
	}
}

func TestCreateSnapshotsRoster(t *testing.T) {
	tally, roster := newTally(t, 40)
	v := seedVote(t, tally, types.KindMute)
	if v.EligibleSnapshot != 40 {
		t.Fatalf("snapshot %d, want 40", v.EligibleSnapshot)
	}

	// The snapshot is fixed at creation; later roster changes do not touch it.
	roster.set(10)
	var got types.Vote
	tally.config.DB.First(&got, v.ID)
	if got.EligibleSnapshot != 40 {
		t.Fatalf("snapshot drifted to %d", got.EligibleSnapshot)
	}
}

func TestBallotSidesMutuallyExclusive(t *testing.T) {
	tally, _ := newTally(t, 40)
	v := seedVote(t, tally, types.KindMute)
	ctx := context.Background()

	if err := tally.CastBallot(ctx, v.ID, "voter-1", SideA); err != nil {
		t.Fatalf("cast a: %v", err)
	}
	// Same side again: a no-op acknowledgement, not an error.
	if err := tally.CastBallot(ctx, v.ID, "voter-1", SideA); err != nil {
		t.Fatalf("recast same side: %v", err)
	}
	// Switching sides moves the voter atomically.
	if err := tally.CastBallot(ctx, v.ID, "voter-1", SideB); err != nil {
		t.Fatalf("switch side: %v", err)
	}

	var got types.Vote
	tally.config.DB.First(&got, v.ID)
	if got.SideAVoters.Has("voter-1") {
		t.Fatal("voter present on both sides")
	}
	if !got.SideBVoters.Has("voter-1") || got.SideBVoters.Len() != 1 {
		t.Fatalf("side b voters %v", got.SideBVoters.Values())
	}

	if err := tally.CastBallot(ctx, v.ID, "voter-1", Side("x")); !errors.Is(err, ErrUnknownSide) {
		t.Fatalf("expected ErrUnknownSide, got %v", err)
	}
}

func TestResolveIdempotentAndHandlerOnce(t *testing.T) {
	tally, _ := newTally(t, 40)
	v := seedVote(t, tally, types.KindMute)
	ctx := context.Background()

	handled := 0
	tally.RegisterHandler(types.KindMute, func(ctx context.Context, v *types.Vote, o Outcome) error {
		handled++
		return nil
	})

	castMany(t, tally, v.ID, SideA, "aye", 6)
	castMany(t, tally, v.ID, SideB, "nay", 2)

	if err := tally.Resolve(ctx, v.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := tally.Resolve(ctx, v.ID); err != nil {
		t.Fatalf("second resolve: %v", err)
	}

	var got types.Vote
	tally.config.DB.First(&got, v.ID)
	if got.Status != types.VoteCompleted || got.Result != types.VoteSideA {
		t.Fatalf("got status=%s result=%s", got.Status, got.Result)
	}
	if handled != 1 {
		t.Fatalf("handler ran %d times, want 1", handled)
	}

	// Ballots after completion are rejected.
	if err := tally.CastBallot(ctx, v.ID, "late", SideA); !errors.Is(err, ErrVoteClosed) {
		t.Fatalf("expected ErrVoteClosed, got %v", err)
	}
}

func TestHandlerFailureRevertsVote(t *testing.T) {
	tally, _ := newTally(t, 40)
	v := seedVote(t, tally, types.KindMute)
	ctx := context.Background()

	boom := errors.New("downstream unavailable")
	attempts := 0
	tally.RegisterHandler(types.KindMute, func(ctx context.Context, v *types.Vote, o Outcome) error {
		attempts++
		if attempts == 1 {
			return boom
		}
		return nil
	})

	castMany(t, tally, v.ID, SideA, "aye", 6)

	if err := tally.Resolve(ctx, v.ID); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}

	var got types.Vote
	tally.config.DB.First(&got, v.ID)
	if got.Status != types.VoteInProgress || got.Result != "" {
		t.Fatalf("vote not reverted: status=%s result=%s", got.Status, got.Result)
	}

	// A retry re-attempts the whole resolution.
	if err := tally.Resolve(ctx, v.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	tally.config.DB.First(&got, v.ID)
	if got.Status != types.VoteCompleted {
		t.Fatal("retry should complete the vote")
	}
}

func TestEagerResolveWhenAllEligibleVoted(t *testing.T) {
	tally, _ := newTally(t, 3)
	// Low quorum so the outcome is a real majority, not a turnout failure.
	tally.config.Policy.QuorumFloor = 1
	tally.config.Policy.QuorumPct = 0
	v := seedVote(t, tally, types.KindMute)
	ctx := context.Background()

	castMany(t, tally, v.ID, SideA, "aye", 2)
	if err := tally.CastBallot(ctx, v.ID, "nay-0", SideB); err != nil {
		t.Fatalf("final ballot: %v", err)
	}

	var got types.Vote
	tally.config.DB.First(&got, v.ID)
	if got.Status != types.VoteCompleted || got.Result != types.VoteSideA {
		t.Fatalf("expected eager resolution, got status=%s result=%s", got.Status, got.Result)
	}
}

func TestPendingListsOnlyInProgress(t *testing.T) {
	tally, _ := newTally(t, 40)
	open := seedVote(t, tally, types.KindMute)
	ctx := context.Background()

	done := seedVoteForSubject(t, tally, "subject-2")
	castMany(t, tally, done.ID, SideA, "aye", 6)
	if err := tally.Resolve(ctx, done.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	entries, err := tally.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != open.ID {
		t.Fatalf("pending %v, want only vote %d", entries, open.ID)
	}
}

func TestComputeOutcome(t *testing.T) {
	policy := testPolicy()

	cases := []struct {
		name     string
		kind     types.PetitionKind
		sideA    int
		sideB    int
		eligible int
		want     string
	}{
		{"ban high band", types.KindBan, 65, 35, 40, types.VoteSideA},
		{"ban high band boundary inclusive", types.KindBan, 60, 40, 40, types.VoteSideA},
		{"ban mid band partial", types.KindBan, 58, 42, 40, types.VoteSideAPartial},
		{"ban mid band boundary is status quo", types.KindBan, 50, 50, 40, types.VoteSideB},
		{"ban below mid band", types.KindBan, 45, 55, 40, types.VoteSideB},
		{"quorum failure beats clear majority", types.KindBan, 10, 10, 230, types.VoteSideB},
		{"quorum failure beats landslide", types.KindMute, 5, 0, 230, types.VoteSideB},
		{"tie is status quo", types.KindMute, 10, 10, 40, types.VoteSideB},
		{"simple majority non-ban", types.KindMute, 31, 29, 40, types.VoteSideA},
		{"simple minority non-ban", types.KindImpeach, 29, 31, 40, types.VoteSideB},
		{"no ballots at all", types.KindMotion, 0, 0, 40, types.VoteSideB},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := &types.Vote{
				Kind:        tc.kind,
				SideAVoters: voterSet("aye", tc.sideA),
				SideBVoters: voterSet("nay", tc.sideB),
			}
			o := computeOutcome(v, tc.eligible, policy)
			if o.Result != tc.want {
				t.Fatalf("a=%d b=%d eligible=%d: got %s, want %s (quorum %d, ratio %.3f)",
					tc.sideA, tc.sideB, tc.eligible, o.Result, tc.want, o.Quorum, o.Ratio)
			}
		})
	}
}

func TestComputeOutcomeQuorumUsesLiveRoster(t *testing.T) {
	policy := testPolicy()
	v := &types.Vote{
		Kind:             types.KindMute,
		SideAVoters:      voterSet("aye", 6),
		SideBVoters:      voterSet("nay", 1),
		EligibleSnapshot: 200, // stale snapshot must not inflate the quorum
	}

	o := computeOutcome(v, 40, policy)
	if wantQuorum := 2 + 4; o.Quorum != wantQuorum {
		t.Fatalf("quorum %d, want %d", o.Quorum, wantQuorum)
	}
	if o.Result != types.VoteSideA {
		t.Fatalf("result %s, want %s", o.Result, types.VoteSideA)
	}
}

func voterSet(prefix string, n int) types.StringSet {
	s := types.NewStringSet()
	for i := 0; i < n; i++ {
		s.Add(fmt.Sprintf("%s-%d", prefix, i))
	}
	return s
}

func seedVoteForSubject(t *testing.T, tally *Tally, subject string) *types.Vote {
	t.Helper()
	payload, _ := types.PetitionPayload{Reason: "repeated rule violations"}.Encode()
	p := &types.Petition{
		Kind:               types.KindMotion,
		SubjectID:          subject,
		InitiatorID:        "initiator-1",
		Status:             types.PetitionCompleted,
		Result:             types.ResultApproved,
		Supporters:         types.NewStringSet("a", "b", "c"),
		RequiredSupporters: 3,
		Payload:            payload,
		ExpireAt:           time.Now().Add(time.Hour),
	}
	if err := tally.config.DB.Create(p).Error; err != nil {
		t.Fatalf("seed petition: %v", err)
	}
	v, err := tally.CreateForPetition(context.Background(), p)
	if err != nil {
		t.Fatalf("create vote: %v", err)
	}
	return v
}
