package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/data"
	"gorm.io/gorm"
)

type Config struct {
	Token           string
	HomeGuildID     string
	CourtChannelID  string
	ModeratorRoleID string
	VoterRoleID     string
	OfficeRoleID    string
	MySQLDSN        string
	RedisURL        string

	// petition policy
	Supporters        int
	ImpeachSupporters int
	PetitionTTL       time.Duration

	// vote policy
	VoteDuration time.Duration
	QuorumFloor  int
	QuorumPct    float64
	HighBand     float64
	MidBand      float64

	// platform call budget
	Workers      int
	GlobalLimit  int
	GlobalWindow time.Duration
	RouteLimit   int
	RouteWindow  time.Duration
}

func Load(db *gorm.DB) Config {
	// Load settings from database
	if err := data.LoadSettings(db); err != nil {
		log.Printf("Failed to load settings: %v", err)
	}

	return Config{
		Token:           setting("discord_token", "DISCORD_TOKEN", ""),
		HomeGuildID:     setting("guild_id", "GUILD_ID", ""),
		CourtChannelID:  setting("court_channel_id", "COURT_CHANNEL_ID", ""),
		ModeratorRoleID: setting("moderator_role_id", "MODERATOR_ROLE_ID", ""),
		VoterRoleID:     setting("voter_role_id", "VOTER_ROLE_ID", ""),
		OfficeRoleID:    setting("office_role_id", "OFFICE_ROLE_ID", ""),
		MySQLDSN:        getenv("MYSQL_DSN", "courtbot:courtbot@tcp(127.0.0.1:3306)/courtbot"),
		RedisURL:        getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),

		Supporters:        settingInt("petition_supporters", 5),
		ImpeachSupporters: settingInt("impeach_supporters", 10),
		PetitionTTL:       settingDuration("petition_ttl_hours", 72),

		VoteDuration: settingDuration("vote_duration_hours", 48),
		QuorumFloor:  settingInt("quorum_floor", 5),
		QuorumPct:    settingFloat("quorum_pct", 0.10),
		HighBand:     settingFloat("ban_high_band", 0.60),
		MidBand:      settingFloat("ban_mid_band", 0.50),

		Workers:      settingInt("dispatch_workers", 4),
		GlobalLimit:  settingInt("rate_global_limit", 45),
		GlobalWindow: time.Second,
		RouteLimit:   settingInt("rate_route_limit", 5),
		RouteWindow:  time.Second,
	}
}

// setting reads a value from the settings table with an env fallback.
func setting(name, env, def string) string {
	if v := data.GetSetting(name); v != "" {
		return v
	}
	return getenv(env, def)
}

func settingInt(name string, def int) int {
	v := data.GetSetting(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("setting %s: %v, using %d", name, err, def)
		return def
	}
	return n
}

func settingFloat(name string, def float64) float64 {
	v := data.GetSetting(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("setting %s: %v, using %g", name, err, def)
		return def
	}
	return f
}

func settingDuration(name string, defHours int) time.Duration {
	return time.Duration(settingInt(name, defHours)) * time.Hour
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
