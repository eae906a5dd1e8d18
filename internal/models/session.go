package models

import "time"

// Session summarises one live conversation.
type Session struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	State     string    `json:"state"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
