package model

type Session struct {
	ID           string `json:"id"`
	DraftID      string `json:"draft_id"`
	UserID       string `json:"user_id"`
	Active       bool   `json:"active"`
	LastActivity int64  `json:"last_activity"`
}
