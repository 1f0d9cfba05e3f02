package bot

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/data"
	"github.com/Opizontas-Studio/courtbot/src/CourtApi/types"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/ballot"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/petition"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/sanction"
	"github.com/bwmarrin/discordgo"
)

var petitionKinds = map[string]types.PetitionKind{
	"mute":    types.KindMute,
	"ban":     types.KindBan,
	"impeach": types.KindImpeach,
	"motion":  types.KindMotion,
}

var sanctionKinds = map[string]string{
	"mute":    types.SanctionMute,
	"ban":     types.SanctionBan,
	"softban": types.SanctionSoftban,
	"warning": types.SanctionWarning,
}

func (b *Bot) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == s.State.User.ID {
		return
	}
	if !strings.HasPrefix(m.Content, "!") {
		return
	}

	parts := strings.Fields(m.Content)
	cmd := strings.ToLower(parts[0])

	var handler func(*discordgo.MessageCreate, []string) (string, error)
	switch cmd {
	case "!petition":
		handler = b.cmdPetition
	case "!appeal":
		handler = b.cmdAppeal
	case "!support":
		handler = b.cmdSupport
	case "!withdraw":
		handler = b.cmdWithdraw
	case "!ballot":
		handler = b.cmdBallot
	case "!sanction":
		handler = b.cmdSanction
	case "!revoke":
		handler = b.cmdRevoke
	case "!verify":
		handler = b.cmdVerify
	default:
		return
	}

	if !b.cooldown.CanUse(m.Author.ID) {
		wait := b.cooldown.TimeUntilNext(m.Author.ID).Round(time.Second)
		b.reply(m.ChannelID, fmt.Sprintf("Please wait %s before using another command.", wait))
		return
	}

	reply, err := handler(m, parts[1:])
	if err != nil {
		b.reply(m.ChannelID, userError(err))
		return
	}
	if reply != "" {
		b.reply(m.ChannelID, reply)
	}
}

// cmdPetition: !petition <mute|ban|impeach|motion> @subject [duration] reason
func (b *Bot) cmdPetition(m *discordgo.MessageCreate, args []string) (string, error) {
	if len(args) < 3 {
		return "Usage: !petition <mute|ban|impeach|motion> @subject [duration] reason", nil
	}
	kind, ok := petitionKinds[strings.ToLower(args[0])]
	if !ok {
		return "", petition.ErrUnknownKind
	}
	subjectID := mentionID(args[1])
	if subjectID == "" {
		return "Mention the subject as the second argument.", nil
	}

	rest := args[2:]
	payload := types.PetitionPayload{}
	if kind == types.KindMute {
		d, err := time.ParseDuration(rest[0])
		if err != nil {
			return "Give the mute duration first, e.g. 48h.", nil
		}
		payload.Duration = int64(d.Seconds())
		rest = rest[1:]
	}
	if kind == types.KindImpeach {
		payload.RoleID = b.config.OfficeRoleID
	}
	payload.Reason = strings.Join(rest, " ")

	p, err := b.petitions.Submit(b.ctx, petition.SubmitInput{
		Kind:        kind,
		SubjectID:   subjectID,
		InitiatorID: m.Author.ID,
		Payload:     payload,
	})
	if err != nil {
		return "", err
	}

	b.postRecord(p)
	return fmt.Sprintf("Petition #%d opened. It needs %d supporters (`!support %d`) within %s.",
		p.ID, p.RequiredSupporters, p.ID, b.config.PetitionTTL), nil
}

// cmdAppeal: !appeal <sanctionID> reason. The appellant is always the author.
func (b *Bot) cmdAppeal(m *discordgo.MessageCreate, args []string) (string, error) {
	if len(args) < 2 {
		return "Usage: !appeal <sanction id> reason", nil
	}
	sanctionID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return "The first argument must be the sanction id.", nil
	}

	p, err := b.petitions.Submit(b.ctx, petition.SubmitInput{
		Kind:        types.KindAppeal,
		SubjectID:   m.Author.ID,
		InitiatorID: m.Author.ID,
		Payload: types.PetitionPayload{
			Reason:     strings.Join(args[1:], " "),
			SanctionID: sanctionID,
		},
	})
	if err != nil {
		return "", err
	}

	b.postRecord(p)
	return fmt.Sprintf("Appeal petition #%d opened against sanction %d. It needs %d supporters.",
		p.ID, sanctionID, p.RequiredSupporters), nil
}

// cmdSupport: !support <petitionID>. Toggles, so a second use withdraws the
// endorsement.
func (b *Bot) cmdSupport(m *discordgo.MessageCreate, args []string) (string, error) {
	if len(args) < 1 {
		return "Usage: !support <petition id>", nil
	}
	petitionID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return "The argument must be the petition id.", nil
	}

	count, completed, err := b.petitions.ToggleSupport(b.ctx, petitionID, m.Author.ID)
	if err != nil {
		return "", err
	}
	if completed {
		return fmt.Sprintf("Petition #%d reached quorum with %d supporters. The matter proceeds to a vote.", petitionID, count), nil
	}
	return fmt.Sprintf("Petition #%d now has %d supporters.", petitionID, count), nil
}

func (b *Bot) cmdWithdraw(m *discordgo.MessageCreate, args []string) (string, error) {
	if len(args) < 1 {
		return "Usage: !withdraw <petition id>", nil
	}
	petitionID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return "The argument must be the petition id.", nil
	}
	if err := b.petitions.Withdraw(b.ctx, petitionID, m.Author.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Petition #%d withdrawn.", petitionID), nil
}

// cmdBallot: !ballot <voteID> <a|b>. Tallies stay hidden, so the reply never
// includes counts.
func (b *Bot) cmdBallot(m *discordgo.MessageCreate, args []string) (string, error) {
	if len(args) < 2 {
		return "Usage: !ballot <vote id> <a|b>", nil
	}
	voteID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return "The first argument must be the vote id.", nil
	}
	side := ballot.Side(strings.ToLower(args[1]))
	if err := b.votes.CastBallot(b.ctx, voteID, m.Author.ID, side); err != nil {
		return "", err
	}
	return fmt.Sprintf("Ballot recorded for vote #%d.", voteID), nil
}

// cmdSanction: !sanction <kind> @subject [duration] reason. Moderators only,
// bypassing the petition process.
func (b *Bot) cmdSanction(m *discordgo.MessageCreate, args []string) (string, error) {
	if !b.isModerator(m.Author.ID) {
		return "You don't have permission to use this command.", nil
	}
	if len(args) < 3 {
		return "Usage: !sanction <mute|ban|softban|warning> @subject [duration] reason", nil
	}
	kind, ok := sanctionKinds[strings.ToLower(args[0])]
	if !ok {
		return "", sanction.ErrUnknownKind
	}
	subjectID := mentionID(args[1])
	if subjectID == "" {
		return "Mention the subject as the second argument.", nil
	}

	rest := args[2:]
	in := sanction.ApplyInput{
		SubjectID:  subjectID,
		Kind:       kind,
		ExecutorID: m.Author.ID,
	}
	if d, err := time.ParseDuration(rest[0]); err == nil {
		if kind == types.SanctionWarning {
			in.WarningDuration = int64(d.Seconds())
		} else {
			in.Duration = int64(d.Seconds())
		}
		rest = rest[1:]
	}
	in.Reason = strings.Join(rest, " ")

	s, err := b.sanctions.Apply(b.ctx, in)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Sanction #%d (%s) applied to <@%s> on %d guilds.",
		s.ID, s.Kind, s.SubjectID, s.SyncedTargets.Len()), nil
}

func (b *Bot) cmdRevoke(m *discordgo.MessageCreate, args []string) (string, error) {
	if !b.isModerator(m.Author.ID) {
		return "You don't have permission to use this command.", nil
	}
	if len(args) < 2 {
		return "Usage: !revoke <sanction id> reason", nil
	}
	sanctionID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return "The first argument must be the sanction id.", nil
	}
	if err := b.sanctions.Revoke(b.ctx, sanctionID, strings.Join(args[1:], " ")); err != nil {
		return "", err
	}
	return fmt.Sprintf("Sanction #%d revoked.", sanctionID), nil
}

// cmdVerify: !verify <nonce>, the web login handshake. The frontend shows the
// nonce, relaying it here proves control of the Discord account.
func (b *Bot) cmdVerify(m *discordgo.MessageCreate, args []string) (string, error) {
	if len(args) < 1 {
		return "Usage: !verify <code from the web login page>", nil
	}
	nonce, err := data.GetNonce(b.ctx, b.rdb, m.Author.ID)
	if err != nil || nonce != args[0] {
		return "That code is wrong or expired. Request a new one on the web login page.", nil
	}
	if err := data.SetNonce(b.ctx, b.rdb, m.Author.ID, "CONFIRMED"); err != nil {
		return "", fmt.Errorf("confirm nonce: %w", err)
	}
	return "Verified. You can finish logging in on the web page now.", nil
}

// postRecord renders the petition's public record message and remembers its
// handle for later edits.
func (b *Bot) postRecord(p *types.Petition) {
	if b.config.CourtChannelID == "" {
		return
	}
	payload, err := types.DecodePayload(p.Payload)
	if err != nil {
		log.Printf("petition %d: decode payload: %v", p.ID, err)
		return
	}
	content := fmt.Sprintf("**Petition #%d** (%s) concerning <@%s>\n%s\nSupport with `!support %d` (%d supporters needed).",
		p.ID, p.Kind, p.SubjectID, payload.Reason, p.ID, p.RequiredSupporters)
	msg, err := b.session.ChannelMessageSend(b.config.CourtChannelID, content)
	if err != nil {
		log.Printf("petition %d: post record: %v", p.ID, err)
		return
	}
	if err := b.petitions.SetMessageRef(p.ID, b.config.CourtChannelID+"/"+msg.ID); err != nil {
		log.Printf("petition %d: save message ref: %v", p.ID, err)
	}
}

func (b *Bot) isModerator(userID string) bool {
	if b.config.ModeratorRoleID == "" {
		return false
	}
	member, err := b.session.GuildMember(b.config.HomeGuildID, userID)
	if err != nil {
		log.Printf("Failed to get guild member: %v", err)
		return false
	}
	for _, roleID := range member.Roles {
		if roleID == b.config.ModeratorRoleID {
			return true
		}
	}
	return false
}

func (b *Bot) reply(channelID, content string) {
	if _, err := b.session.ChannelMessageSend(channelID, content); err != nil {
		log.Printf("Failed to send message: %v", err)
	}
}

// userError maps engine errors to a short reply; anything unexpected is
// logged and answered generically.
func userError(err error) string {
	switch {
	case errors.Is(err, petition.ErrPetitionClosed):
		return "That petition is already closed."
	case errors.Is(err, petition.ErrNotInitiator):
		return "Only the petition's initiator may withdraw it."
	case errors.Is(err, petition.ErrBadReason):
		return "The reason must be between 10 and 2000 characters."
	case errors.Is(err, petition.ErrBadDuration):
		return "A mute petition needs a positive duration."
	case errors.Is(err, petition.ErrNoSanction):
		return "There is no active sanction with that id to appeal."
	case errors.Is(err, petition.ErrUnknownKind), errors.Is(err, sanction.ErrUnknownKind):
		return "Unknown kind."
	case errors.Is(err, ballot.ErrVoteClosed):
		return "That vote has already been resolved."
	case errors.Is(err, ballot.ErrUnknownSide):
		return "Vote `a` (for the motion) or `b` (status quo)."
	case errors.Is(err, sanction.ErrAlreadyClosed):
		return "That sanction is no longer active."
	case errors.Is(err, sanction.ErrAllTargetsFailed):
		return "The sanction could not be applied on any linked guild."
	case errors.Is(err, sanction.ErrNoTargets):
		return "No linked guilds are configured."
	default:
		log.Printf("command failed: %v", err)
		return "Something went wrong. Please try again."
	}
}

func mentionID(s string) string {
	s = strings.TrimPrefix(s, "<@")
	s = strings.TrimPrefix(s, "!")
	s = strings.TrimSuffix(s, ">")
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	if s == "" {
		return ""
	}
	return s
}
