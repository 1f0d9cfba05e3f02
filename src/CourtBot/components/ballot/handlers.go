package ballot

import (
	"context"
	"fmt"
	"log"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/types"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/sanction"
	"gorm.io/gorm"
)

// Announcer covers the platform calls handlers make outside the sanction
// lifecycle.
type Announcer interface {
	Notify(ctx context.Context, userID, message string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
}

// fallback warning window for a graduated partial outcome whose petition
// named no duration
const defaultSoftbanWarning = 30 * 24 * 3600

// DefaultHandlers builds the outcome handler for every known vote kind.
func DefaultHandlers(db *gorm.DB, sanctions *sanction.Lifecycle, announcer Announcer, homeGuildID string) map[types.PetitionKind]Handler {
	load := func(v *types.Vote) (*types.Petition, types.PetitionPayload, error) {
		var p types.Petition
		if err := db.First(&p, v.PetitionID).Error; err != nil {
			return nil, types.PetitionPayload{}, fmt.Errorf("load petition %d: %w", v.PetitionID, err)
		}
		payload, err := types.DecodePayload(p.Payload)
		if err != nil {
			return nil, types.PetitionPayload{}, fmt.Errorf("petition %d payload: %w", p.ID, err)
		}
		return &p, payload, nil
	}

	notify := func(ctx context.Context, userID, msg string) {
		if err := announcer.Notify(ctx, userID, msg); err != nil {
			log.Printf("notify %s: %v", userID, err)
		}
	}

	return map[types.PetitionKind]Handler{
		types.KindMute: func(ctx context.Context, v *types.Vote, o Outcome) error {
			p, payload, err := load(v)
			if err != nil {
				return err
			}
			if o.Result != types.VoteSideA {
				notify(ctx, p.InitiatorID, fmt.Sprintf("The mute vote on <@%s> did not pass.", p.SubjectID))
				return nil
			}
			_, err = sanctions.Apply(ctx, sanction.ApplyInput{
				SubjectID:        p.SubjectID,
				Kind:             types.SanctionMute,
				Reason:           payload.Reason,
				Duration:         payload.Duration,
				WarningDuration:  payload.WarningDuration,
				ExecutorID:       p.InitiatorID,
				SourcePetitionID: &p.ID,
			})
			return err
		},

		types.KindBan: func(ctx context.Context, v *types.Vote, o Outcome) error {
			p, payload, err := load(v)
			if err != nil {
				return err
			}
			in := sanction.ApplyInput{
				SubjectID:        p.SubjectID,
				Reason:           payload.Reason,
				ExecutorID:       p.InitiatorID,
				SourcePetitionID: &p.ID,
			}
			switch o.Result {
			case types.VoteSideA:
				in.Kind = types.SanctionBan // permanent
			case types.VoteSideAPartial:
				// Reduced severity: a softban plus a running warning flag.
				in.Kind = types.SanctionSoftban
				in.WarningDuration = payload.WarningDuration
				if in.WarningDuration == 0 {
					in.WarningDuration = defaultSoftbanWarning
				}
			default:
				notify(ctx, p.InitiatorID, fmt.Sprintf("The ban vote on <@%s> did not pass.", p.SubjectID))
				return nil
			}
			_, err = sanctions.Apply(ctx, in)
			return err
		},

		types.KindImpeach: func(ctx context.Context, v *types.Vote, o Outcome) error {
			p, payload, err := load(v)
			if err != nil {
				return err
			}
			if o.Result != types.VoteSideA {
				notify(ctx, p.InitiatorID, fmt.Sprintf("The impeachment vote on <@%s> did not pass.", p.SubjectID))
				return nil
			}
			if err := announcer.RemoveRole(ctx, homeGuildID, p.SubjectID, payload.RoleID); err != nil {
				return fmt.Errorf("strip role: %w", err)
			}
			notify(ctx, p.SubjectID, "You have been impeached and your office role removed.")
			return nil
		},

		types.KindAppeal: func(ctx context.Context, v *types.Vote, o Outcome) error {
			p, payload, err := load(v)
			if err != nil {
				return err
			}
			if o.Result != types.VoteSideA {
				notify(ctx, p.SubjectID, "Your appeal was denied; the sanction stands.")
				return nil
			}
			return sanctions.Uphold(ctx, payload.SanctionID, "appeal upheld by community vote")
		},

		types.KindMotion: func(ctx context.Context, v *types.Vote, o Outcome) error {
			p, _, err := load(v)
			if err != nil {
				return err
			}
			if o.Result == types.VoteSideA {
				notify(ctx, p.InitiatorID, "Your motion passed.")
			} else {
				notify(ctx, p.InitiatorID, "Your motion did not pass.")
			}
			return nil
		},
	}
}
