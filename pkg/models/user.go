package models

// User is the authenticated account as returned by /auth/me.
type User struct {
	ID       string `json:"id"                 yaml:"id"`
	Email    string `json:"email"              yaml:"email"`
	Name     string `json:"name"               yaml:"name"`
	FullName string `json:"fullName,omitempty" yaml:"fullName,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// AuthResponse carries the bearer token issued on login or signup.
type AuthResponse struct {
	Token string `json:"token" yaml:"token"`
	User  User   `json:"user"  yaml:"user"`
}
