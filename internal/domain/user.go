package domain

// UserContext is the authenticated principal injected into request handlers.
type UserContext struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// Identity returns the key documents are owned by.
func (u *UserContext) Identity() string {
	if u == nil {
		return ""
	}
	if u.Email != "" {
		return u.Email
	}
	return u.UserID
}
