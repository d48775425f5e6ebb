package models

import "time"

// User is the minimal principal record the core needs for ownership,
// visibility and log attribution. Account lifecycle is managed elsewhere.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}
