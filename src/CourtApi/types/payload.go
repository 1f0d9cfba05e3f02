package types

import "encoding/json"

// PetitionPayload carries the kind-specific details needed to render and
// execute the eventual action.
type PetitionPayload struct {
	Reason          string `json:"reason"`
	Duration        int64  `json:"duration,omitempty"`         // seconds, sanction kinds
	WarningDuration int64  `json:"warning_duration,omitempty"` // seconds
	RoleID          string `json:"role_id,omitempty"`          // impeachment
	SanctionID      uint64 `json:"sanction_id,omitempty"`      // appeal
}

func (p PetitionPayload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodePayload(raw string) (PetitionPayload, error) {
	var p PetitionPayload
	if raw == "" {
		return p, nil
	}
	err := json.Unmarshal([]byte(raw), &p)
	return p, err
}
