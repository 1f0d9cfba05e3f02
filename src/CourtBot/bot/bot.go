package bot

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/ballot"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/discord"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/dispatch"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/petition"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/ratelimit"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/sanction"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/scheduler"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/config"
	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Bot struct {
	session    *discordgo.Session
	db         *gorm.DB
	rdb        *redis.Client
	config     config.Config
	limiter    *ratelimit.Limiter
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	platform   *discord.Service
	sanctions  *sanction.Lifecycle
	votes      *ballot.Tally
	petitions  *petition.Machine
	cooldown   *ratelimit.Cooldown
	ctx        context.Context
	cancel     context.CancelFunc
}

func New(cfg config.Config, db *gorm.DB, rdb *redis.Client) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bot{
		session:  dg,
		db:       db,
		rdb:      rdb,
		config:   cfg,
		cooldown: ratelimit.NewCooldown(30 * time.Second),
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := b.initializeComponents(); err != nil {
		cancel()
		return nil, err
	}

	dg.AddHandler(b.handleReady)
	dg.AddHandler(b.handleMessageCreate)

	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers

	return b, nil
}

func (b *Bot) initializeComponents() error {
	b.limiter = ratelimit.New(
		ratelimit.Rule{Limit: b.config.GlobalLimit, Window: b.config.GlobalWindow},
		ratelimit.Rule{Limit: b.config.RouteLimit, Window: b.config.RouteWindow},
	)
	b.dispatcher = dispatch.New(b.limiter, b.config.Workers)
	b.scheduler = scheduler.New()

	b.platform = discord.NewService(discord.Config{
		Session:     b.session,
		Dispatcher:  b.dispatcher,
		HomeGuildID: b.config.HomeGuildID,
		VoterRoleID: b.config.VoterRoleID,
	})

	b.sanctions = sanction.NewLifecycle(sanction.Config{
		DB:         b.db,
		Redis:      b.rdb,
		Scheduler:  b.scheduler,
		Dispatcher: b.dispatcher,
		Enforcer:   b.platform,
	})

	b.votes = ballot.NewTally(ballot.Config{
		DB:        b.db,
		Redis:     b.rdb,
		Scheduler: b.scheduler,
		Roster:    b.platform,
		Policy: ballot.Policy{
			Duration:    b.config.VoteDuration,
			QuorumFloor: b.config.QuorumFloor,
			QuorumPct:   b.config.QuorumPct,
			HighBand:    b.config.HighBand,
			MidBand:     b.config.MidBand,
		},
	})
	for kind, h := range ballot.DefaultHandlers(b.db, b.sanctions, b.platform, b.config.HomeGuildID) {
		b.votes.RegisterHandler(kind, h)
	}

	b.petitions = petition.NewMachine(petition.Config{
		DB:        b.db,
		Redis:     b.rdb,
		Scheduler: b.scheduler,
		Notifier:  b.platform,
		Votes:     b.votes,
		Policy: petition.Policy{
			Supporters:        b.config.Supporters,
			ImpeachSupporters: b.config.ImpeachSupporters,
			TTL:               b.config.PetitionTTL,
		},
	})

	b.scheduler.Register(petition.TimerEntity, b.petitions)
	b.scheduler.Register(ballot.TimerEntity, b.votes)
	b.scheduler.Register(sanction.MuteTimerEntity, b.sanctions.MuteSource())
	b.scheduler.Register(sanction.WarningTimerEntity, b.sanctions.WarningSource())

	b.cooldown.StartCleanup(10 * time.Minute)
	return nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	return nil
}

func (b *Bot) Stop() {
	b.cancel()
	b.session.Close()
	b.dispatcher.Close()
}

func (b *Bot) handleReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("Discord bot logged in as %s", event.User.Username)

	// Re-arm every persisted timer before taking commands; the expiry
	// columns, not the lost timers, decide what fires.
	if err := b.scheduler.Initialize(b.ctx); err != nil {
		log.Printf("Failed to recover timers: %v", err)
	}
}
