package webserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/types"
)

type Petitions struct{ db *gorm.DB }

func NewPetitions(db *gorm.DB) Petitions { return Petitions{db: db} }

type petitionView struct {
	ID                 uint64             `json:"id"`
	Kind               types.PetitionKind `json:"kind"`
	SubjectID          string             `json:"subjectId"`
	InitiatorID        string             `json:"initiatorId"`
	Status             string             `json:"status"`
	Result             string             `json:"result,omitempty"`
	Supporters         []string           `json:"supporters"`
	RequiredSupporters int                `json:"requiredSupporters"`
	Reason             string             `json:"reason"`
	ExpireAt           int64              `json:"expireAt"`
	CreatedAt          int64              `json:"createdAt"`
}

func petitionToView(p *types.Petition) petitionView {
	reason := ""
	if payload, err := types.DecodePayload(p.Payload); err == nil {
		reason = payload.Reason
	}
	return petitionView{
		ID:                 p.ID,
		Kind:               p.Kind,
		SubjectID:          p.SubjectID,
		InitiatorID:        p.InitiatorID,
		Status:             p.Status,
		Result:             p.Result,
		Supporters:         p.Supporters.Values(),
		RequiredSupporters: p.RequiredSupporters,
		Reason:             reason,
		ExpireAt:           p.ExpireAt.Unix(),
		CreatedAt:          p.CreatedAt.Unix(),
	}
}

func (h Petitions) List(c *gin.Context) {
	q := h.db.Order("id DESC").Limit(100)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if kind := c.Query("kind"); kind != "" {
		q = q.Where("kind = ?", kind)
	}

	var rows []types.Petition
	if err := q.Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	out := make([]petitionView, 0, len(rows))
	for i := range rows {
		out = append(out, petitionToView(&rows[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h Petitions) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad id"})
		return
	}
	var p types.Petition
	if err := h.db.First(&p, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "petition not found"})
		return
	}
	c.JSON(http.StatusOK, petitionToView(&p))
}
