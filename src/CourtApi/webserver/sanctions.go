package webserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/types"
)

type Sanctions struct{ db *gorm.DB }

func NewSanctions(db *gorm.DB) Sanctions { return Sanctions{db: db} }

type sanctionView struct {
	ID               uint64  `json:"id"`
	SubjectID        string  `json:"subjectId"`
	Kind             string  `json:"kind"`
	Reason           string  `json:"reason"`
	Duration         int64   `json:"duration"`
	WarningDuration  int64   `json:"warningDuration"`
	Status           string  `json:"status"`
	ExecutorID       string  `json:"executorId"`
	SyncedTargets    int     `json:"syncedTargets"`
	SourcePetitionID *uint64 `json:"sourcePetitionId,omitempty"`
	ExpireAt         *int64  `json:"expireAt,omitempty"`
	WarnExpireAt     *int64  `json:"warnExpireAt,omitempty"`
	CreatedAt        int64   `json:"createdAt"`
}

func sanctionToView(s *types.Sanction) sanctionView {
	out := sanctionView{
		ID:               s.ID,
		SubjectID:        s.SubjectID,
		Kind:             s.Kind,
		Reason:           s.Reason,
		Duration:         s.Duration,
		WarningDuration:  s.WarningDuration,
		Status:           s.Status,
		ExecutorID:       s.ExecutorID,
		SyncedTargets:    s.SyncedTargets.Len(),
		SourcePetitionID: s.SourcePetitionID,
		CreatedAt:        s.CreatedAt.Unix(),
	}
	if s.ExpireAt != nil {
		at := s.ExpireAt.Unix()
		out.ExpireAt = &at
	}
	if s.WarnExpireAt != nil {
		at := s.WarnExpireAt.Unix()
		out.WarnExpireAt = &at
	}
	return out
}

func (h Sanctions) List(c *gin.Context) {
	q := h.db.Order("id DESC").Limit(100)
	if subject := c.Query("subject"); subject != "" {
		q = q.Where("subject_id = ?", subject)
	}
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var rows []types.Sanction
	if err := q.Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	out := make([]sanctionView, 0, len(rows))
	for i := range rows {
		out = append(out, sanctionToView(&rows[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h Sanctions) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad id"})
		return
	}
	var s types.Sanction
	if err := h.db.First(&s, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "sanction not found"})
		return
	}
	c.JSON(http.StatusOK, sanctionToView(&s))
}
