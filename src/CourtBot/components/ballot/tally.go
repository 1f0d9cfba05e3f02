package ballot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/data"
	"github.com/Opizontas-Studio/courtbot/src/CourtApi/types"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/scheduler"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const TimerEntity scheduler.EntityType = "vote"

var (
	ErrVoteClosed  = errors.New("vote is already resolved")
	ErrUnknownSide = errors.New("unknown ballot side")
	errAlreadyDone = errors.New("vote resolved concurrently")
)

// Side of a two-sided ballot. Side A carries the petition's motion, side B
// the status quo.
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

// Roster reports the current number of eligible voters from the live
// platform, not any snapshot.
type Roster interface {
	EligibleVoterCount(ctx context.Context) (int, error)
}

// Outcome is the computed resolution handed to the kind handler.
type Outcome struct {
	Result  string
	Ratio   float64 // side A share of cast ballots
	Turnout int
	Quorum  int
}

// Handler executes the downstream consequence of one vote kind.
type Handler func(ctx context.Context, v *types.Vote, o Outcome) error

type Policy struct {
	Duration    time.Duration // voting window
	QuorumFloor int           // fixed floor of the turnout quorum
	QuorumPct   float64       // plus this share of the live roster
	HighBand    float64       // side A ratio for full severity, inclusive
	MidBand     float64       // side A ratio above which partial severity applies, exclusive
}

type Config struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Scheduler *scheduler.Scheduler
	Roster    Roster
	Policy    Policy
}

// Tally manages anonymous ballot collection and quorum/graduated outcome
// resolution.
type Tally struct {
	config   Config
	handlers map[types.PetitionKind]Handler
}

func NewTally(config Config) *Tally {
	return &Tally{
		config:   config,
		handlers: make(map[types.PetitionKind]Handler),
	}
}

// RegisterHandler binds a vote kind to its downstream action. Adding a kind
// is an additive change here, never a tally edit.
func (t *Tally) RegisterHandler(kind types.PetitionKind, h Handler) {
	t.handlers[kind] = h
}

// CreateForPetition spawns the vote for a petition that reached quorum. The
// eligible-voter count is snapshotted at this instant and never re-queried
// for display; resolution uses the live roster instead.
func (t *Tally) CreateForPetition(ctx context.Context, p *types.Petition) (*types.Vote, error) {
	eligible, err := t.config.Roster.EligibleVoterCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot eligible voters: %w", err)
	}

	payload, err := types.DecodePayload(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("petition %d payload: %w", p.ID, err)
	}

	now := time.Now()
	v := &types.Vote{
		PetitionID:       p.ID,
		Kind:             p.Kind,
		SideA:            sideADescription(p.Kind, p.SubjectID, payload),
		SideB:            "Maintain the status quo",
		SideAVoters:      types.NewStringSet(),
		SideBVoters:      types.NewStringSet(),
		EligibleSnapshot: eligible,
		StartAt:          now,
		EndAt:            now.Add(t.config.Policy.Duration),
		Status:           types.VoteInProgress,
	}
	if err := t.config.DB.Create(v).Error; err != nil {
		return nil, fmt.Errorf("create vote: %w", err)
	}

	t.config.Scheduler.Schedule(TimerEntity, v.ID, v.EndAt)
	t.publish(ctx, "vote_opened", v)
	return v, nil
}

// CastBallot records one voter's side. Voting the side they already sit on
// is a no-op acknowledgement; the opposite side moves them atomically. Per-
// side tallies stay hidden until the vote resolves.
func (t *Tally) CastBallot(ctx context.Context, voteID uint64, voterID string, side Side) error {
	if side != SideA && side != SideB {
		return ErrUnknownSide
	}

	var v types.Vote
	full := false
	err := t.config.DB.Transaction(func(tx *gorm.DB) error {
		if err := data.Locked(tx).
			First(&v, voteID).Error; err != nil {
			return fmt.Errorf("load vote %d: %w", voteID, err)
		}
		if v.Status == types.VoteCompleted {
			return ErrVoteClosed
		}

		ours, theirs := v.SideAVoters, v.SideBVoters
		if side == SideB {
			ours, theirs = theirs, ours
		}
		if ours.Has(voterID) {
			return nil // acknowledgement, nothing to write
		}
		theirs.Remove(voterID)
		ours.Add(voterID)
		full = v.SideAVoters.Len()+v.SideBVoters.Len() >= v.EligibleSnapshot

		return tx.Model(&types.Vote{}).Where("id = ?", v.ID).Updates(map[string]interface{}{
			"side_a_voters": v.SideAVoters,
			"side_b_voters": v.SideBVoters,
		}).Error
	})
	if err != nil {
		return err
	}

	// Eager resolution: the window already closed, or every eligible voter
	// has spoken.
	if time.Now().After(v.EndAt) || full {
		if err := t.Resolve(ctx, v.ID); err != nil {
			log.Printf("vote %d: eager resolve: %v", v.ID, err)
		}
	}
	return nil
}

// Resolve computes and applies the outcome. Idempotent: a completed vote is
// a safe no-op, and the downstream handler runs at most once. A handler
// failure reverts the vote to in_progress for a later retry.
func (t *Tally) Resolve(ctx context.Context, voteID uint64) error {
	var v types.Vote
	if err := t.config.DB.First(&v, voteID).Error; err != nil {
		return fmt.Errorf("load vote %d: %w", voteID, err)
	}
	if v.Status == types.VoteCompleted {
		return nil
	}

	live, err := t.config.Roster.EligibleVoterCount(ctx)
	if err != nil {
		return fmt.Errorf("live eligible voters: %w", err)
	}

	// Claim the resolution before running the handler, so a concurrent
	// resolver sees completed and backs off. The outcome is computed from
	// the row as locked, so ballots cast up to this instant count.
	var outcome Outcome
	err = t.config.DB.Transaction(func(tx *gorm.DB) error {
		var cur types.Vote
		if err := data.Locked(tx).
			First(&cur, voteID).Error; err != nil {
			return err
		}
		if cur.Status == types.VoteCompleted {
			return errAlreadyDone
		}
		v = cur
		outcome = computeOutcome(&v, live, t.config.Policy)
		return tx.Model(&types.Vote{}).Where("id = ?", voteID).Updates(map[string]interface{}{
			"status": types.VoteCompleted,
			"result": outcome.Result,
		}).Error
	})
	if errors.Is(err, errAlreadyDone) {
		return nil
	}
	if err != nil {
		return err
	}
	v.Status = types.VoteCompleted
	v.Result = outcome.Result

	if h, ok := t.handlers[v.Kind]; ok {
		if err := h(ctx, &v, outcome); err != nil {
			// Never strand a vote half-resolved: revert so a retry can
			// re-attempt the whole resolution.
			revert := t.config.DB.Model(&types.Vote{}).Where("id = ?", voteID).Updates(map[string]interface{}{
				"status": types.VoteInProgress,
				"result": "",
			}).Error
			if revert != nil {
				log.Printf("vote %d: revert after handler failure: %v", voteID, revert)
			}
			return fmt.Errorf("vote %d handler: %w", voteID, err)
		}
	}

	t.publish(ctx, "vote_resolved", &v)
	return nil
}

// Pending implements scheduler.Source for restart recovery.
func (t *Tally) Pending(ctx context.Context) ([]scheduler.Entry, error) {
	var rows []types.Vote
	err := t.config.DB.WithContext(ctx).
		Where("status = ?", types.VoteInProgress).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	entries := make([]scheduler.Entry, 0, len(rows))
	for _, v := range rows {
		entries = append(entries, scheduler.Entry{ID: v.ID, FireAt: v.EndAt})
	}
	return entries, nil
}

// computeOutcome applies the resolution rules in priority order: turnout
// quorum, tie-break, then graduated bands for the ban kind or simple
// majority for the rest. Quorum and ties favor the status quo.
func computeOutcome(v *types.Vote, liveEligible int, p Policy) Outcome {
	a := v.SideAVoters.Len()
	b := v.SideBVoters.Len()
	total := a + b
	quorum := p.QuorumFloor + int(math.Ceil(p.QuorumPct*float64(liveEligible)))

	o := Outcome{Turnout: total, Quorum: quorum}
	if total > 0 {
		o.Ratio = float64(a) / float64(total)
	}

	switch {
	case total < quorum:
		o.Result = types.VoteSideB
	case a == b:
		o.Result = types.VoteSideB
	case v.Kind == types.KindBan:
		// Graduated severity: the high band is inclusive, the mid band
		// boundary is exclusive.
		switch {
		case o.Ratio >= p.HighBand:
			o.Result = types.VoteSideA
		case o.Ratio > p.MidBand:
			o.Result = types.VoteSideAPartial
		default:
			o.Result = types.VoteSideB
		}
	case a > b:
		o.Result = types.VoteSideA
	default:
		o.Result = types.VoteSideB
	}
	return o
}

func sideADescription(kind types.PetitionKind, subjectID string, p types.PetitionPayload) string {
	switch kind {
	case types.KindMute:
		return fmt.Sprintf("Mute <@%s>: %s", subjectID, p.Reason)
	case types.KindBan:
		return fmt.Sprintf("Ban <@%s>: %s", subjectID, p.Reason)
	case types.KindImpeach:
		return fmt.Sprintf("Impeach <@%s>: %s", subjectID, p.Reason)
	case types.KindAppeal:
		return fmt.Sprintf("Uphold the appeal of <@%s>: %s", subjectID, p.Reason)
	default:
		return p.Reason
	}
}

func (t *Tally) publish(ctx context.Context, event string, v *types.Vote) {
	err := data.PublishEvent(ctx, t.config.Redis, map[string]interface{}{
		"event":    event,
		"vote":     v.ID,
		"petition": v.PetitionID,
		"kind":     string(v.Kind),
		"status":   v.Status,
		"result":   v.Result,
	})
	if err != nil {
		log.Printf("vote %d: publish %s: %v", v.ID, event, err)
	}
}
