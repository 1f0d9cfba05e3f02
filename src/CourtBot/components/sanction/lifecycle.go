package sanction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/data"
	"github.com/Opizontas-Studio/courtbot/src/CourtApi/types"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/dispatch"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/ratelimit"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/scheduler"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	MuteTimerEntity    scheduler.EntityType = "sanction_mute"
	WarningTimerEntity scheduler.EntityType = "sanction_warning"
)

var (
	ErrUnknownKind      = errors.New("unknown sanction kind")
	ErrBadDuration      = errors.New("duration must not be negative")
	ErrNoTargets        = errors.New("no active target guilds configured")
	ErrAllTargetsFailed = errors.New("sanction could not be applied to any target guild")
	ErrAlreadyClosed    = errors.New("sanction is no longer active")
)

// Enforcer enacts and retracts consequences on a single target guild. Every
// call goes out through the dispatcher and rate limiter.
type Enforcer interface {
	Enact(ctx context.Context, target types.TargetGuild, s *types.Sanction) error
	Lift(ctx context.Context, target types.TargetGuild, s *types.Sanction) error
	LiftWarning(ctx context.Context, target types.TargetGuild, subjectID string) error
	Notify(ctx context.Context, userID, message string) error
}

type Config struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Scheduler  *scheduler.Scheduler
	Dispatcher *dispatch.Dispatcher
	Enforcer   Enforcer
}

// Lifecycle creates, propagates, and expires sanctions across the linked
// target guilds.
type Lifecycle struct {
	config Config
}

func NewLifecycle(config Config) *Lifecycle {
	return &Lifecycle{config: config}
}

type ApplyInput struct {
	SubjectID        string
	Kind             string
	Reason           string
	Duration         int64 // seconds, 0 = permanent
	WarningDuration  int64 // seconds, 0 = no warning flag
	ExecutorID       string
	SourcePetitionID *uint64
}

// Apply creates a provisional record, enacts it on every active target
// guild, and keeps the record only if at least one target succeeded. Per-
// target failures are logged and excluded; total failure rolls the record
// back entirely.
func (l *Lifecycle) Apply(ctx context.Context, in ApplyInput) (*types.Sanction, error) {
	switch in.Kind {
	case types.SanctionMute, types.SanctionBan, types.SanctionSoftban, types.SanctionWarning:
	default:
		return nil, ErrUnknownKind
	}
	if in.Duration < 0 || in.WarningDuration < 0 {
		return nil, ErrBadDuration
	}
	if strings.TrimSpace(in.SubjectID) == "" {
		return nil, fmt.Errorf("subject is required")
	}

	targets, err := l.activeTargets()
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	now := time.Now()
	s := &types.Sanction{
		SubjectID:        in.SubjectID,
		Kind:             in.Kind,
		Reason:           in.Reason,
		Duration:         in.Duration,
		WarningDuration:  in.WarningDuration,
		Status:           types.SanctionActive,
		ExecutorID:       in.ExecutorID,
		SyncedTargets:    types.NewStringSet(),
		SourcePetitionID: in.SourcePetitionID,
		CreatedAt:        now,
	}
	if in.Duration > 0 {
		at := now.Add(time.Duration(in.Duration) * time.Second)
		s.ExpireAt = &at
	}
	if in.WarningDuration > 0 {
		at := now.Add(time.Duration(in.WarningDuration) * time.Second)
		s.WarnExpireAt = &at
	}

	if err := l.config.DB.Create(s).Error; err != nil {
		return nil, fmt.Errorf("create sanction: %w", err)
	}

	synced := l.fanOut(ctx, targets, "enact", func(target types.TargetGuild) error {
		return l.config.Enforcer.Enact(ctx, target, s)
	})

	if synced.Len() == 0 {
		if err := l.config.DB.Delete(&types.Sanction{}, s.ID).Error; err != nil {
			log.Printf("sanction %d: rollback after total failure: %v", s.ID, err)
		}
		return nil, ErrAllTargetsFailed
	}

	s.SyncedTargets = synced
	err = l.config.DB.Model(&types.Sanction{}).Where("id = ?", s.ID).
		Update("synced_targets", s.SyncedTargets).Error
	if err != nil {
		return nil, fmt.Errorf("persist synced targets: %w", err)
	}

	if s.ExpireAt != nil {
		l.config.Scheduler.Schedule(MuteTimerEntity, s.ID, *s.ExpireAt)
	}
	if s.WarnExpireAt != nil {
		l.config.Scheduler.Schedule(WarningTimerEntity, s.ID, *s.WarnExpireAt)
	}

	l.publish(ctx, "sanction_applied", s)
	l.notify(ctx, s.SubjectID, fmt.Sprintf(
		"A %s sanction was applied to you across %d community guilds: %s",
		s.Kind, synced.Len(), s.Reason))
	return s, nil
}

// ExpireMute lifts the primary consequence when its duration elapses.
// Idempotent; the warning portion keeps its own clock.
func (l *Lifecycle) ExpireMute(ctx context.Context, sanctionID uint64) error {
	s, proceed, err := l.claimPortion(sanctionID, "mute_lifted")
	if err != nil || !proceed {
		return err
	}

	l.forEachSynced(ctx, s, "lift", func(target types.TargetGuild) error {
		return l.config.Enforcer.Lift(ctx, target, s)
	})

	l.finishIfSpent(ctx, s)
	return nil
}

// ExpireWarning lifts the shared warning flag when its duration elapses,
// but only when no other active sanction on the same subject still
// requires it.
func (l *Lifecycle) ExpireWarning(ctx context.Context, sanctionID uint64) error {
	s, proceed, err := l.claimPortion(sanctionID, "warning_lifted")
	if err != nil || !proceed {
		return err
	}

	stillNeeded, err := l.warningStillNeeded(s)
	if err != nil {
		return err
	}
	if stillNeeded {
		log.Printf("sanction %d: warning flag kept, other active records need it", s.ID)
	} else {
		l.forEachSynced(ctx, s, "lift warning", func(target types.TargetGuild) error {
			return l.config.Enforcer.LiftWarning(ctx, target, s.SubjectID)
		})
	}

	l.finishIfSpent(ctx, s)
	return nil
}

// Revoke retracts a sanction everywhere it was synced, best-effort, and
// marks the record revoked. Used by moderator reversals.
func (l *Lifecycle) Revoke(ctx context.Context, sanctionID uint64, reason string) error {
	return l.end(ctx, sanctionID, reason, types.SanctionRevoked)
}

// Uphold ends a sanction whose appeal succeeded: same retraction path as
// Revoke, final status appealed.
func (l *Lifecycle) Uphold(ctx context.Context, sanctionID uint64, reason string) error {
	return l.end(ctx, sanctionID, reason, types.SanctionAppealed)
}

func (l *Lifecycle) end(ctx context.Context, sanctionID uint64, reason, finalStatus string) error {
	var s types.Sanction
	err := l.config.DB.Transaction(func(tx *gorm.DB) error {
		if err := data.Locked(tx).
			First(&s, sanctionID).Error; err != nil {
			return fmt.Errorf("load sanction %d: %w", sanctionID, err)
		}
		if s.Terminal() {
			return ErrAlreadyClosed
		}
		return tx.Model(&types.Sanction{}).Where("id = ?", s.ID).Updates(map[string]interface{}{
			"status":         finalStatus,
			"mute_lifted":    true,
			"warning_lifted": true,
		}).Error
	})
	if err != nil {
		return err
	}

	l.config.Scheduler.Cancel(MuteTimerEntity, s.ID)
	l.config.Scheduler.Cancel(WarningTimerEntity, s.ID)

	// The warning flag is shared per subject: retract it only when no other
	// active record still requires it. s still carries the pre-close lifted
	// flags, so portions already expired are not lifted twice.
	liftWarning := s.WarningDuration > 0 && !s.WarningLifted
	if liftWarning {
		stillNeeded, err := l.warningStillNeeded(&s)
		if err != nil {
			log.Printf("sanction %d: %v", s.ID, err)
			stillNeeded = true // keep the flag when in doubt
		}
		if stillNeeded {
			log.Printf("sanction %d: warning flag kept, other active records need it", s.ID)
			liftWarning = false
		}
	}

	// Partial retraction success is logged, not fatal.
	l.forEachSynced(ctx, &s, "retract", func(target types.TargetGuild) error {
		if !s.MuteLifted {
			if err := l.config.Enforcer.Lift(ctx, target, &s); err != nil {
				return err
			}
		}
		if liftWarning {
			return l.config.Enforcer.LiftWarning(ctx, target, s.SubjectID)
		}
		return nil
	})

	s.Status = finalStatus
	l.publish(ctx, "sanction_"+finalStatus, &s)
	l.notify(ctx, s.SubjectID, fmt.Sprintf("Your %s sanction was lifted: %s", s.Kind, reason))
	return nil
}

// MuteSource exposes the primary-duration timers to the scheduler.
func (l *Lifecycle) MuteSource() scheduler.Source {
	return portionSource{
		pending: func(ctx context.Context) ([]scheduler.Entry, error) {
			return l.pendingPortion(ctx, "expire_at", "mute_lifted")
		},
		resolve: l.ExpireMute,
	}
}

// WarningSource exposes the warning-duration timers to the scheduler.
func (l *Lifecycle) WarningSource() scheduler.Source {
	return portionSource{
		pending: func(ctx context.Context) ([]scheduler.Entry, error) {
			return l.pendingPortion(ctx, "warn_expire_at", "warning_lifted")
		},
		resolve: l.ExpireWarning,
	}
}

type portionSource struct {
	pending func(ctx context.Context) ([]scheduler.Entry, error)
	resolve func(ctx context.Context, id uint64) error
}

func (p portionSource) Pending(ctx context.Context) ([]scheduler.Entry, error) {
	return p.pending(ctx)
}

func (p portionSource) Resolve(ctx context.Context, id uint64) error {
	return p.resolve(ctx, id)
}

func (l *Lifecycle) pendingPortion(ctx context.Context, timeColumn, liftedColumn string) ([]scheduler.Entry, error) {
	var rows []types.Sanction
	err := l.config.DB.WithContext(ctx).
		Where("status = ? AND "+timeColumn+" IS NOT NULL AND "+liftedColumn+" = ?",
			types.SanctionActive, false).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	entries := make([]scheduler.Entry, 0, len(rows))
	for _, s := range rows {
		at := s.ExpireAt
		if timeColumn == "warn_expire_at" {
			at = s.WarnExpireAt
		}
		if at != nil {
			entries = append(entries, scheduler.Entry{ID: s.ID, FireAt: *at})
		}
	}
	return entries, nil
}

// claimPortion marks one expiry portion as lifted under a row lock and
// reports whether the caller should carry out the retraction. Terminal
// records and already-lifted portions are silent no-ops.
func (l *Lifecycle) claimPortion(sanctionID uint64, liftedColumn string) (*types.Sanction, bool, error) {
	var s types.Sanction
	proceed := false
	err := l.config.DB.Transaction(func(tx *gorm.DB) error {
		if err := data.Locked(tx).
			First(&s, sanctionID).Error; err != nil {
			return fmt.Errorf("load sanction %d: %w", sanctionID, err)
		}
		if s.Terminal() {
			return nil
		}
		lifted := s.MuteLifted
		if liftedColumn == "warning_lifted" {
			lifted = s.WarningLifted
		}
		if lifted {
			return nil
		}
		proceed = true
		return tx.Model(&types.Sanction{}).Where("id = ?", s.ID).
			Update(liftedColumn, true).Error
	})
	if proceed {
		if liftedColumn == "warning_lifted" {
			s.WarningLifted = true
		} else {
			s.MuteLifted = true
		}
	}
	return &s, proceed, err
}

// warningStillNeeded reports whether another active sanction on the same
// subject still requires the shared warning flag.
func (l *Lifecycle) warningStillNeeded(s *types.Sanction) (bool, error) {
	var n int64
	err := l.config.DB.Model(&types.Sanction{}).
		Where("subject_id = ? AND status = ? AND warning_duration > 0 AND warning_lifted = ? AND id <> ?",
			s.SubjectID, types.SanctionActive, false, s.ID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check sibling sanctions: %w", err)
	}
	return n > 0, nil
}

// finishIfSpent marks the record expired once every applicable portion has
// been lifted.
func (l *Lifecycle) finishIfSpent(ctx context.Context, s *types.Sanction) {
	muteDone := s.ExpireAt == nil || s.MuteLifted
	warnDone := s.WarnExpireAt == nil || s.WarningLifted
	if !muteDone || !warnDone {
		return
	}
	err := l.config.DB.Model(&types.Sanction{}).
		Where("id = ? AND status = ?", s.ID, types.SanctionActive).
		Update("status", types.SanctionExpired).Error
	if err != nil {
		log.Printf("sanction %d: mark expired: %v", s.ID, err)
		return
	}
	s.Status = types.SanctionExpired
	l.publish(ctx, "sanction_expired", s)
}

// fanOut runs one operation per target through the dispatcher and returns
// the guild ids that succeeded. One target's failure never aborts the
// others.
func (l *Lifecycle) fanOut(ctx context.Context, targets []types.TargetGuild, op string, run func(types.TargetGuild) error) types.StringSet {
	type pending struct {
		guildID string
		ch      <-chan dispatch.Result
	}
	calls := make([]pending, 0, len(targets))
	for _, target := range targets {
		target := target
		route := ratelimit.RouteKey("PUT", "/guilds/"+target.GuildID+"/sanctions")
		ch := l.config.Dispatcher.Add(ctx, route, dispatch.PriorityHigh, func(ctx context.Context) (interface{}, error) {
			return nil, run(target)
		})
		calls = append(calls, pending{guildID: target.GuildID, ch: ch})
	}

	synced := types.NewStringSet()
	for _, call := range calls {
		if res := <-call.ch; res.Err != nil {
			log.Printf("sanction %s on guild %s: %v", op, call.guildID, res.Err)
		} else {
			synced.Add(call.guildID)
		}
	}
	return synced
}

func (l *Lifecycle) forEachSynced(ctx context.Context, s *types.Sanction, op string, run func(types.TargetGuild) error) {
	targets, err := l.activeTargets()
	if err != nil {
		log.Printf("sanction %d: load targets: %v", s.ID, err)
		return
	}
	var synced []types.TargetGuild
	for _, target := range targets {
		if s.SyncedTargets.Has(target.GuildID) {
			synced = append(synced, target)
		}
	}
	l.fanOut(ctx, synced, op, run)
}

func (l *Lifecycle) activeTargets() ([]types.TargetGuild, error) {
	var targets []types.TargetGuild
	if err := l.config.DB.Where("active = ?", true).Find(&targets).Error; err != nil {
		return nil, fmt.Errorf("load target guilds: %w", err)
	}
	return targets, nil
}

func (l *Lifecycle) notify(ctx context.Context, userID, message string) {
	if l.config.Enforcer == nil {
		return
	}
	if err := l.config.Enforcer.Notify(ctx, userID, message); err != nil {
		log.Printf("notify %s: %v", userID, err)
	}
}

func (l *Lifecycle) publish(ctx context.Context, event string, s *types.Sanction) {
	err := data.PublishEvent(ctx, l.config.Redis, map[string]interface{}{
		"event":    event,
		"sanction": s.ID,
		"kind":     s.Kind,
		"subject":  s.SubjectID,
		"status":   s.Status,
		"targets":  s.SyncedTargets.Len(),
	})
	if err != nil {
		log.Printf("sanction %d: publish %s: %v", s.ID, event, err)
	}
}
