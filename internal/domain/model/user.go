package model

// User is the read-only projection of an account owned by the user service.
type User struct {
	Username  string `json:"username" bson:"username"`
	FullName  string `json:"full_name,omitempty" bson:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"`
	IsActive  bool   `json:"is_active" bson:"is_active"`
	IsBanned  bool   `json:"is_banned,omitempty" bson:"is_banned,omitempty"`
}

// CanConnect reports whether the account may hold a realtime connection
// or receive direct messages.
func (u *User) CanConnect() bool {
	return u != nil && u.IsActive && !u.IsBanned
}

// DisplayName falls back to the username when no full name is set.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}
