package types

import "time"

// Petition kinds
type PetitionKind string

const (
	KindMute    PetitionKind = "sanction-mute"
	KindBan     PetitionKind = "sanction-ban"
	KindImpeach PetitionKind = "impeachment"
	KindAppeal  PetitionKind = "appeal"
	KindMotion  PetitionKind = "motion"
)

// Petition statuses
const (
	PetitionPending    = "pending"
	PetitionInProgress = "in_progress"
	PetitionCompleted  = "completed"
	PetitionCancelled  = "cancelled"
)

// Petition results
const (
	ResultApproved  = "approved"
	ResultWithdrawn = "withdrawn"
	ResultNoQuorum  = "expired-no-quorum"
)

// Vote statuses and results
const (
	VoteInProgress = "in_progress"
	VoteCompleted  = "completed"

	VoteSideA        = "side_a"
	VoteSideAPartial = "side_a_partial"
	VoteSideB        = "side_b"
)

// Sanction kinds
const (
	SanctionMute    = "mute"
	SanctionBan     = "ban"
	SanctionSoftban = "softban"
	SanctionWarning = "warning"
)

// Sanction statuses
const (
	SanctionActive   = "active"
	SanctionExpired  = "expired"
	SanctionAppealed = "appealed"
	SanctionRevoked  = "revoked"
)

// Petitions awaiting supporter quorum
type Petition struct {
	ID                 uint64       `gorm:"primaryKey"`
	Kind               PetitionKind `gorm:"size:16;index;not null"`
	SubjectID          string       `gorm:"size:64;index;not null"`
	InitiatorID        string       `gorm:"size:64;not null"`
	Status             string       `gorm:"size:16;index;not null"`
	Result             string       `gorm:"size:32"`
	Supporters         StringSet    `gorm:"type:json"`
	RequiredSupporters int          `gorm:"not null"`
	Payload            string       `gorm:"type:text"`
	MessageRef         string       `gorm:"size:128"`
	ExpireAt           time.Time    `gorm:"index;not null"`
	CreatedAt          time.Time
}

func (p *Petition) Terminal() bool {
	return p.Status == PetitionCompleted || p.Status == PetitionCancelled
}

// Votes spawned from petitions that reached quorum
type Vote struct {
	ID               uint64       `gorm:"primaryKey"`
	PetitionID       uint64       `gorm:"uniqueIndex;not null"`
	Kind             PetitionKind `gorm:"size:16;not null"`
	SideA            string       `gorm:"type:text"`
	SideB            string       `gorm:"type:text"`
	SideAVoters      StringSet    `gorm:"type:json"`
	SideBVoters      StringSet    `gorm:"type:json"`
	EligibleSnapshot int          `gorm:"not null"`
	StartAt          time.Time    `gorm:"not null"`
	EndAt            time.Time    `gorm:"index;not null"`
	Status           string       `gorm:"size:16;index;not null"`
	Result           string       `gorm:"size:16"`
}

// Applied moderation actions, synced across target guilds
type Sanction struct {
	ID               uint64     `gorm:"primaryKey"`
	SubjectID        string     `gorm:"size:64;index;not null"`
	Kind             string     `gorm:"size:16;not null"`
	Reason           string     `gorm:"type:text"`
	Duration         int64      `gorm:"not null"` // seconds, 0 = permanent
	WarningDuration  int64      `gorm:"not null"` // seconds, 0 = no warning flag
	Status           string     `gorm:"size:16;index;not null"`
	ExecutorID       string     `gorm:"size:64;not null"`
	SyncedTargets    StringSet  `gorm:"type:json"`
	SourcePetitionID *uint64    `gorm:"index"`
	ExpireAt         *time.Time `gorm:"index"`
	WarnExpireAt     *time.Time `gorm:"index"`
	MuteLifted       bool       `gorm:"default:false"`
	WarningLifted    bool       `gorm:"default:false"`
	CreatedAt        time.Time
}

func (s *Sanction) Terminal() bool {
	return s.Status != SanctionActive
}

// Linked guilds a sanction propagates to
type TargetGuild struct {
	ID           uint32 `gorm:"primaryKey"`
	GuildID      string `gorm:"size:64;unique;not null"`
	Name         string `gorm:"size:64;not null"`
	MutedRoleID  string `gorm:"size:64"`
	WarnedRoleID string `gorm:"size:64"`
	Active       bool   `gorm:"default:true"`
}

// Settings
type Setting struct {
	ID    uint8  `gorm:"primaryKey"`
	Name  string `gorm:"size:32;not null"`
	Value string `gorm:"size:256;not null"`
}
