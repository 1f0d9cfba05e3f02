package webserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/config"
)

func attachRoutes(r *gin.Engine, cfg config.Config, db *gorm.DB, rdb *redis.Client) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "https://court.opizontas.org"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	authH := NewAuth(rdb, []byte(cfg.JWTSecret))
	petitionH := NewPetitions(db)
	voteH := NewVotes(db)
	sanctionH := NewSanctions(db)

	v1 := r.Group("/v1")
	{
		v1.POST("/auth/challenge", authH.Challenge)
		v1.POST("/auth/verify", authH.Verify)

		secured := v1.Use(JWTMiddleware([]byte(cfg.JWTSecret)))
		secured.GET("/petitions", petitionH.List)
		secured.GET("/petitions/:id", petitionH.Get)
		secured.GET("/votes", voteH.List)
		secured.GET("/votes/:id", voteH.Get)
		secured.GET("/sanctions", sanctionH.List)
		secured.GET("/sanctions/:id", sanctionH.Get)
	}

	admin := v1.Group("/admin")
	admin.Use(JWTMiddleware([]byte(cfg.JWTSecret)), AdminOnly())
	{
		adminH := NewAdmin(db)
		admin.GET("/guilds", adminH.ListGuilds)
		admin.POST("/guilds", adminH.UpsertGuild)
		admin.DELETE("/guilds/:guildID", adminH.DeactivateGuild)
		admin.PUT("/settings/:name", adminH.PutSetting)
	}
}
