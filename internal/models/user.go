package models

// Profile lives at /users/{id}.
type Profile struct {
	Name  string `json:"Nom"`
	Email string `json:"Email"`
}

// Account lives at /accounts/{id}; it never leaves the server.
type Account struct {
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	CreatedAt    int64  `json:"createdAt"`
}

// UserInfo holds basic user profile info sent with views and listings
type UserInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Online bool   `json:"online"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token  string `json:"token"`
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}
