package webserver

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/data"
)

// nonceConfirmed is what the bot writes over a nonce once the user has
// relayed it back via `!verify` in Discord.
const nonceConfirmed = "CONFIRMED"

type Auth struct {
	rdb       *redis.Client
	jwtSecret []byte
}

func NewAuth(rdb *redis.Client, secret []byte) Auth {
	return Auth{rdb: rdb, jwtSecret: secret}
}

// Challenge issues a nonce the user must relay to the bot over Discord,
// proving control of the Discord account without any shared password.
func (a Auth) Challenge(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required,min=15,max=22,numeric"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	log.Printf("Auth challenge for %s from IP %s", req.UserID, c.ClientIP())

	nonce := uuid.NewString()
	if err := data.SetNonce(c, a.rdb, req.UserID, nonce); err != nil {
		log.Printf("Failed to set nonce for %s: %v", req.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"err": "failed to create challenge"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"nonce": nonce})
}

// Verify checks that the bot saw the nonce from the right account and issues
// a session token.
func (a Auth) Verify(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required,min=15,max=22,numeric"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	confirmed, err := data.GetNonce(c, a.rdb, req.UserID)
	if err != nil || confirmed != nonceConfirmed {
		c.JSON(http.StatusUnauthorized, gin.H{"err": "challenge not confirmed or expired"})
		return
	}
	data.DelNonce(c, a.rdb, req.UserID)

	token, err := issueJWT(req.UserID, a.jwtSecret)
	if err != nil {
		log.Printf("Failed to issue JWT for %s: %v", req.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	log.Printf("Successfully authenticated %s", req.UserID)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func issueJWT(userID string, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	return token.SignedString(secret)
}
