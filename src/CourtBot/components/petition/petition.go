package petition

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/data"
	"github.com/Opizontas-Studio/courtbot/src/CourtApi/types"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/scheduler"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const TimerEntity scheduler.EntityType = "petition"

var (
	ErrPetitionClosed = errors.New("petition is already closed")
	ErrNotInitiator   = errors.New("only the initiator may withdraw")
	ErrUnknownKind    = errors.New("unknown petition kind")
	ErrBadReason      = errors.New("reason must be between 10 and 2000 characters")
	ErrBadDuration    = errors.New("duration must be positive")
	ErrNoSanction     = errors.New("no active sanction to appeal")
)

// Notifier renders petition records and reaches users, behind the
// platform gateway.
type Notifier interface {
	UpdateRecord(ctx context.Context, ref, content string) error
	Notify(ctx context.Context, userID, message string) error
}

// VoteSpawner creates the vote once a petition reaches quorum.
type VoteSpawner interface {
	CreateForPetition(ctx context.Context, p *types.Petition) (*types.Vote, error)
}

type Policy struct {
	Supporters        int           // quorum for sanction/appeal/motion petitions
	ImpeachSupporters int           // quorum for impeachment petitions
	TTL               time.Duration // petition lifetime before expiry
}

type Config struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Scheduler *scheduler.Scheduler
	Notifier  Notifier
	Votes     VoteSpawner
	Policy    Policy
}

// Machine owns the petition state transitions: pending → in_progress →
// {completed, cancelled}.
type Machine struct {
	config    Config
	sanitizer *bluemonday.Policy
}

func NewMachine(config Config) *Machine {
	return &Machine{
		config:    config,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

type SubmitInput struct {
	Kind        types.PetitionKind
	SubjectID   string
	InitiatorID string
	Payload     types.PetitionPayload
}

// Submit validates and creates a petition and arms its expiry timer.
func (m *Machine) Submit(ctx context.Context, in SubmitInput) (*types.Petition, error) {
	required, err := m.requiredSupporters(in.Kind)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.SubjectID) == "" || strings.TrimSpace(in.InitiatorID) == "" {
		return nil, fmt.Errorf("subject and initiator are required")
	}

	in.Payload.Reason = strings.TrimSpace(m.sanitizer.Sanitize(in.Payload.Reason))
	if len(in.Payload.Reason) < 10 || len(in.Payload.Reason) > 2000 {
		return nil, ErrBadReason
	}

	switch in.Kind {
	case types.KindMute:
		if in.Payload.Duration <= 0 {
			return nil, ErrBadDuration
		}
	case types.KindAppeal:
		var s types.Sanction
		err := m.config.DB.First(&s, "id = ? AND status = ?", in.Payload.SanctionID, types.SanctionActive).Error
		if err != nil {
			return nil, ErrNoSanction
		}
	}

	payload, err := in.Payload.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	p := &types.Petition{
		Kind:               in.Kind,
		SubjectID:          in.SubjectID,
		InitiatorID:        in.InitiatorID,
		Status:             types.PetitionPending,
		Supporters:         types.NewStringSet(),
		RequiredSupporters: required,
		Payload:            payload,
		ExpireAt:           time.Now().Add(m.config.Policy.TTL),
	}
	if err := m.config.DB.Create(p).Error; err != nil {
		return nil, fmt.Errorf("create petition: %w", err)
	}

	m.config.Scheduler.Schedule(TimerEntity, p.ID, p.ExpireAt)
	m.publish(ctx, "petition_submitted", p)
	return p, nil
}

// SetMessageRef records the opaque handle of the externally-rendered record.
func (m *Machine) SetMessageRef(petitionID uint64, ref string) error {
	return m.config.DB.Model(&types.Petition{}).
		Where("id = ?", petitionID).
		Update("message_ref", ref).Error
}

// ToggleSupport flips one voter's endorsement. A second toggle from the same
// voter removes them; only additions are checked against the quorum
// threshold. Returns the new supporter count and whether quorum completed
// the petition.
func (m *Machine) ToggleSupport(ctx context.Context, petitionID uint64, voterID string) (int, bool, error) {
	var p types.Petition
	completed := false

	err := m.config.DB.Transaction(func(tx *gorm.DB) error {
		if err := data.Locked(tx).
			First(&p, petitionID).Error; err != nil {
			return fmt.Errorf("load petition %d: %w", petitionID, err)
		}
		if p.Terminal() {
			return ErrPetitionClosed
		}

		added := p.Supporters.Toggle(voterID)
		if p.Status == types.PetitionPending {
			p.Status = types.PetitionInProgress
		}
		if added && p.Supporters.Len() >= p.RequiredSupporters {
			p.Status = types.PetitionCompleted
			p.Result = types.ResultApproved
			completed = true
		}

		return tx.Model(&types.Petition{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
			"supporters": p.Supporters,
			"status":     p.Status,
			"result":     p.Result,
		}).Error
	})
	if err != nil {
		return 0, false, err
	}

	if completed {
		m.config.Scheduler.Cancel(TimerEntity, p.ID)
		m.publish(ctx, "petition_quorum", &p)
		if _, err := m.config.Votes.CreateForPetition(ctx, &p); err != nil {
			return p.Supporters.Len(), true, fmt.Errorf("spawn vote: %w", err)
		}
		m.updateRecord(ctx, &p, "Quorum reached, the matter proceeds to a vote.")
	}
	return p.Supporters.Len(), completed, nil
}

// Withdraw cancels a non-terminal petition; only the initiator may do so.
func (m *Machine) Withdraw(ctx context.Context, petitionID uint64, requesterID string) error {
	var p types.Petition
	err := m.config.DB.Transaction(func(tx *gorm.DB) error {
		if err := data.Locked(tx).
			First(&p, petitionID).Error; err != nil {
			return fmt.Errorf("load petition %d: %w", petitionID, err)
		}
		if p.Terminal() {
			return ErrPetitionClosed
		}
		if p.InitiatorID != requesterID {
			return ErrNotInitiator
		}
		p.Status = types.PetitionCancelled
		p.Result = types.ResultWithdrawn
		return tx.Model(&types.Petition{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
			"status": p.Status,
			"result": p.Result,
		}).Error
	})
	if err != nil {
		return err
	}

	m.config.Scheduler.Cancel(TimerEntity, p.ID)
	m.updateRecord(ctx, &p, "Petition withdrawn by its initiator.")
	m.publish(ctx, "petition_withdrawn", &p)
	return nil
}

// Expire closes a petition that never reached quorum. Called by the
// scheduler; a terminal petition is a silent no-op even if the timer still
// fires.
func (m *Machine) Expire(ctx context.Context, petitionID uint64) error {
	var p types.Petition
	expired := false

	err := m.config.DB.Transaction(func(tx *gorm.DB) error {
		if err := data.Locked(tx).
			First(&p, petitionID).Error; err != nil {
			return fmt.Errorf("load petition %d: %w", petitionID, err)
		}
		if p.Terminal() {
			return nil
		}
		p.Status = types.PetitionCompleted
		p.Result = types.ResultNoQuorum
		expired = true
		return tx.Model(&types.Petition{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
			"status": p.Status,
			"result": p.Result,
		}).Error
	})
	if err != nil || !expired {
		return err
	}

	m.updateRecord(ctx, &p, "Petition expired without reaching quorum.")
	m.publish(ctx, "petition_expired", &p)
	return nil
}

// Pending implements scheduler.Source for restart recovery.
func (m *Machine) Pending(ctx context.Context) ([]scheduler.Entry, error) {
	var rows []types.Petition
	err := m.config.DB.WithContext(ctx).
		Where("status IN ?", []string{types.PetitionPending, types.PetitionInProgress}).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	entries := make([]scheduler.Entry, 0, len(rows))
	for _, p := range rows {
		entries = append(entries, scheduler.Entry{ID: p.ID, FireAt: p.ExpireAt})
	}
	return entries, nil
}

// Resolve implements scheduler.Source.
func (m *Machine) Resolve(ctx context.Context, id uint64) error {
	return m.Expire(ctx, id)
}

func (m *Machine) requiredSupporters(kind types.PetitionKind) (int, error) {
	switch kind {
	case types.KindMute, types.KindBan, types.KindAppeal, types.KindMotion:
		return m.config.Policy.Supporters, nil
	case types.KindImpeach:
		return m.config.Policy.ImpeachSupporters, nil
	default:
		return 0, ErrUnknownKind
	}
}

func (m *Machine) updateRecord(ctx context.Context, p *types.Petition, note string) {
	if m.config.Notifier == nil || p.MessageRef == "" {
		return
	}
	if err := m.config.Notifier.UpdateRecord(ctx, p.MessageRef, note); err != nil {
		log.Printf("petition %d: update record: %v", p.ID, err)
	}
}

func (m *Machine) publish(ctx context.Context, event string, p *types.Petition) {
	err := data.PublishEvent(ctx, m.config.Redis, map[string]interface{}{
		"event":    event,
		"petition": p.ID,
		"kind":     string(p.Kind),
		"subject":  p.SubjectID,
		"status":   p.Status,
		"result":   p.Result,
	})
	if err != nil {
		log.Printf("petition %d: publish %s: %v", p.ID, event, err)
	}
}
