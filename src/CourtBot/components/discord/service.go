package discord

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/types"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/dispatch"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/ratelimit"
	"github.com/bwmarrin/discordgo"
)

const memberPageSize = 1000

type Config struct {
	Session     *discordgo.Session
	Dispatcher  *dispatch.Dispatcher
	HomeGuildID string
	VoterRoleID string // empty: every non-bot member is an eligible voter
}

// Service is the single gateway to the Discord API. Enact, Lift and
// LiftWarning run inside dispatcher jobs already (the sanction fan-out owns
// that queueing), so they hit the session directly; everything else submits
// through the dispatcher here.
type Service struct {
	config Config
}

func NewService(config Config) *Service {
	return &Service{config: config}
}

// Enact applies one sanction's consequence on one target guild.
func (s *Service) Enact(ctx context.Context, target types.TargetGuild, sn *types.Sanction) error {
	switch sn.Kind {
	case types.SanctionMute:
		if target.MutedRoleID == "" {
			return fmt.Errorf("guild %s has no muted role configured", target.GuildID)
		}
		if err := s.config.Session.GuildMemberRoleAdd(target.GuildID, sn.SubjectID, target.MutedRoleID); err != nil {
			return fmt.Errorf("add muted role: %w", err)
		}
	case types.SanctionBan:
		if err := s.config.Session.GuildBanCreateWithReason(target.GuildID, sn.SubjectID, sn.Reason, 0); err != nil {
			return fmt.Errorf("ban: %w", err)
		}
	case types.SanctionSoftban:
		// Removal without a standing ban: the subject may rejoin, the
		// warning flag below marks them when they do.
		if err := s.config.Session.GuildMemberDeleteWithReason(target.GuildID, sn.SubjectID, sn.Reason); err != nil {
			return fmt.Errorf("kick: %w", err)
		}
	case types.SanctionWarning:
		// handled by the shared warning flag below
	default:
		return fmt.Errorf("unknown sanction kind %q", sn.Kind)
	}

	if sn.WarningDuration > 0 || sn.Kind == types.SanctionWarning {
		if target.WarnedRoleID == "" {
			log.Printf("guild %s: no warned role configured, flag skipped", target.GuildID)
			return nil
		}
		if err := s.config.Session.GuildMemberRoleAdd(target.GuildID, sn.SubjectID, target.WarnedRoleID); err != nil {
			// A softban removed the member; the flag applies on rejoin
			// and its absence now is not a sync failure.
			if sn.Kind == types.SanctionSoftban {
				log.Printf("guild %s: warn flag on kicked member %s: %v", target.GuildID, sn.SubjectID, err)
				return nil
			}
			return fmt.Errorf("add warned role: %w", err)
		}
	}
	return nil
}

// Lift retracts the primary consequence on one target guild. The warning
// flag has its own clock and is lifted separately.
func (s *Service) Lift(ctx context.Context, target types.TargetGuild, sn *types.Sanction) error {
	switch sn.Kind {
	case types.SanctionMute:
		if err := s.config.Session.GuildMemberRoleRemove(target.GuildID, sn.SubjectID, target.MutedRoleID); err != nil {
			return fmt.Errorf("remove muted role: %w", err)
		}
	case types.SanctionBan:
		if err := s.config.Session.GuildBanDelete(target.GuildID, sn.SubjectID); err != nil {
			return fmt.Errorf("unban: %w", err)
		}
	case types.SanctionSoftban, types.SanctionWarning:
		// nothing standing to retract
	}
	return nil
}

// LiftWarning strips the shared warning flag on one target guild.
func (s *Service) LiftWarning(ctx context.Context, target types.TargetGuild, subjectID string) error {
	if target.WarnedRoleID == "" {
		return nil
	}
	if err := s.config.Session.GuildMemberRoleRemove(target.GuildID, subjectID, target.WarnedRoleID); err != nil {
		return fmt.Errorf("remove warned role: %w", err)
	}
	return nil
}

// Notify DMs a user. Undeliverable DMs (closed inbox, left the guild) are
// the caller's problem to log, not fatal.
func (s *Service) Notify(ctx context.Context, userID, message string) error {
	return s.submit(ctx, "POST", "/users/"+userID+"/channels", dispatch.PriorityLow, func(ctx context.Context) error {
		ch, err := s.config.Session.UserChannelCreate(userID)
		if err != nil {
			return fmt.Errorf("open dm: %w", err)
		}
		_, err = s.config.Session.ChannelMessageSend(ch.ID, message)
		return err
	})
}

// RemoveRole strips a role in the home guild, used by impeachment outcomes.
func (s *Service) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return s.submit(ctx, "DELETE", "/guilds/"+guildID+"/members/"+userID+"/roles/"+roleID, dispatch.PriorityHigh, func(ctx context.Context) error {
		return s.config.Session.GuildMemberRoleRemove(guildID, userID, roleID)
	})
}

// UpdateRecord edits the public record message a petition or vote lives in.
// ref is "channelID/messageID" as stored on the petition.
func (s *Service) UpdateRecord(ctx context.Context, ref, content string) error {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("malformed message ref %q", ref)
	}
	return s.submit(ctx, "PATCH", "/channels/"+parts[0]+"/messages/"+parts[1], dispatch.PriorityNormal, func(ctx context.Context) error {
		_, err := s.config.Session.ChannelMessageEdit(parts[0], parts[1], content)
		return err
	})
}

// EligibleVoterCount walks the home guild's member list and counts live
// eligible voters. Called at vote creation (snapshot) and resolution (live
// quorum base).
func (s *Service) EligibleVoterCount(ctx context.Context) (int, error) {
	count := 0
	err := s.submit(ctx, "GET", "/guilds/"+s.config.HomeGuildID+"/members", dispatch.PriorityNormal, func(ctx context.Context) error {
		after := ""
		for {
			members, err := s.config.Session.GuildMembers(s.config.HomeGuildID, after, memberPageSize)
			if err != nil {
				return fmt.Errorf("list members after %q: %w", after, err)
			}
			for _, m := range members {
				if s.eligible(m) {
					count++
				}
			}
			if len(members) < memberPageSize {
				return nil
			}
			after = members[len(members)-1].User.ID
		}
	})
	return count, err
}

func (s *Service) eligible(m *discordgo.Member) bool {
	if m.User == nil || m.User.Bot {
		return false
	}
	if s.config.VoterRoleID == "" {
		return true
	}
	for _, role := range m.Roles {
		if role == s.config.VoterRoleID {
			return true
		}
	}
	return false
}

func (s *Service) submit(ctx context.Context, method, path string, priority int, run func(context.Context) error) error {
	route := ratelimit.RouteKey(method, path)
	ch := s.config.Dispatcher.Add(ctx, route, priority, func(ctx context.Context) (interface{}, error) {
		return nil, run(ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Minute):
		return fmt.Errorf("%s %s: dispatcher timed out", method, path)
	}
}
