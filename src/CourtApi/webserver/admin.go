package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/data"
	"github.com/Opizontas-Studio/courtbot/src/CourtApi/types"
)

type Admin struct{ db *gorm.DB }

func NewAdmin(db *gorm.DB) Admin { return Admin{db: db} }

func (h Admin) ListGuilds(c *gin.Context) {
	var guilds []types.TargetGuild
	if err := h.db.Order("id").Find(&guilds).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, guilds)
}

// UpsertGuild links (or relinks) a guild sanctions propagate to.
func (h Admin) UpsertGuild(c *gin.Context) {
	var req struct {
		GuildID      string `json:"guildId" binding:"required,min=15,max=22,numeric"`
		Name         string `json:"name" binding:"required,max=64"`
		MutedRoleID  string `json:"mutedRoleId"`
		WarnedRoleID string `json:"warnedRoleId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	guild := types.TargetGuild{
		GuildID:      req.GuildID,
		Name:         req.Name,
		MutedRoleID:  req.MutedRoleID,
		WarnedRoleID: req.WarnedRoleID,
		Active:       true,
	}
	err := h.db.Where("guild_id = ?", req.GuildID).
		Assign(map[string]interface{}{
			"name":           req.Name,
			"muted_role_id":  req.MutedRoleID,
			"warned_role_id": req.WarnedRoleID,
			"active":         true,
		}).
		FirstOrCreate(&guild).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, guild)
}

// PutSetting upserts one tuning row (quorum, bands, rate ceilings). The bot
// reads it on its next restart.
func (h Admin) PutSetting(c *gin.Context) {
	var req struct {
		Value string `json:"value" binding:"required,max=256"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	name := c.Param("name")
	if err := data.SetSetting(h.db, name, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "value": req.Value})
}

// DeactivateGuild stops new sanctions propagating there; standing ones keep
// their synced_targets history.
func (h Admin) DeactivateGuild(c *gin.Context) {
	res := h.db.Model(&types.TargetGuild{}).
		Where("guild_id = ?", c.Param("guildID")).
		Update("active", false)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": res.Error.Error()})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"err": "guild not linked"})
		return
	}
	c.Status(http.StatusNoContent)
}
