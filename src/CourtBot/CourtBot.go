package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/data"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/bot"
	"github.com/Opizontas-Studio/courtbot/src/CourtBot/config"
)

func main() {
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "courtbot:courtbot@tcp(127.0.0.1:3306)/courtbot"
	}
	db := data.MustMySQL(mysqlDSN)

	if err := data.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	cfg := config.Load(db)
	if cfg.Token == "" {
		log.Fatal("DISCORD_TOKEN not set in database or environment")
	}
	if cfg.HomeGuildID == "" {
		log.Fatal("GUILD_ID not set in database or environment")
	}

	rdb := data.MustRedis(cfg.RedisURL)

	courtBot, err := bot.New(cfg, db, rdb)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}
	if err := courtBot.Start(); err != nil {
		log.Fatalf("Failed to start bot: %v", err)
	}

	log.Println("Court bot is running. Press CTRL-C to exit.")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	courtBot.Stop()
	log.Println("Court bot stopped gracefully")
}
