package webserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/types"
)

type Votes struct{ db *gorm.DB }

func NewVotes(db *gorm.DB) Votes { return Votes{db: db} }

type voteView struct {
	ID               uint64             `json:"id"`
	PetitionID       uint64             `json:"petitionId"`
	Kind             types.PetitionKind `json:"kind"`
	SideA            string             `json:"sideA"`
	SideB            string             `json:"sideB"`
	EligibleSnapshot int                `json:"eligibleSnapshot"`
	StartAt          int64              `json:"startAt"`
	EndAt            int64              `json:"endAt"`
	Status           string             `json:"status"`
	Result           string             `json:"result,omitempty"`
	SideACount       *int               `json:"sideACount,omitempty"`
	SideBCount       *int               `json:"sideBCount,omitempty"`
}

// voteToView hides the per-side tallies until the vote is resolved; ballots
// are anonymous and the running count must not steer voters.
func voteToView(v *types.Vote) voteView {
	out := voteView{
		ID:               v.ID,
		PetitionID:       v.PetitionID,
		Kind:             v.Kind,
		SideA:            v.SideA,
		SideB:            v.SideB,
		EligibleSnapshot: v.EligibleSnapshot,
		StartAt:          v.StartAt.Unix(),
		EndAt:            v.EndAt.Unix(),
		Status:           v.Status,
	}
	if v.Status == types.VoteCompleted {
		a, b := v.SideAVoters.Len(), v.SideBVoters.Len()
		out.Result = v.Result
		out.SideACount = &a
		out.SideBCount = &b
	}
	return out
}

func (h Votes) List(c *gin.Context) {
	q := h.db.Order("id DESC").Limit(100)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var rows []types.Vote
	if err := q.Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	out := make([]voteView, 0, len(rows))
	for i := range rows {
		out = append(out, voteToView(&rows[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h Votes) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad id"})
		return
	}
	var v types.Vote
	if err := h.db.First(&v, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "vote not found"})
		return
	}
	c.JSON(http.StatusOK, voteToView(&v))
}
