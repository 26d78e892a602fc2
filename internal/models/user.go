package models

// User is the slice of the external user directory the chat core reads.
type User struct {
	ID              string  `json:"id" db:"id"`
	Username        string  `json:"username" db:"username"`
	ProfileImageURL *string `json:"profileImageUrl,omitempty" db:"profile_image_url"`
}

// UserResponse is what we send to clients
type UserResponse struct {
	ID              string  `json:"userId"`
	Username        string  `json:"username"`
	ProfileImageURL *string `json:"profileImageUrl,omitempty"`
}

// ToResponse converts User to UserResponse
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:              u.ID,
		Username:        u.Username,
		ProfileImageURL: u.ProfileImageURL,
	}
}
