package users

import (
	"time"

	"github.com/MarcoPoloResearchLab/elmo/internal/strava"
)

// User stores the upstream athlete identity together with its OAuth credentials.
type User struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	FirstName    string    `gorm:"column:firstname;size:80"`
	LastName     string    `gorm:"column:lastname;size:80"`
	AccessToken  string    `gorm:"column:access_token;size:255;not null"`
	RefreshToken string    `gorm:"column:refresh_token;size:255;not null"`
	ExpiresAt    int64     `gorm:"column:expires_at;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// CredentialsExpired reports whether the access token expiry lies strictly before now.
func (u User) CredentialsExpired(now time.Time) bool {
	return now.Unix() > u.ExpiresAt
}

// Apply copies a token response onto the user. Profile fields are only taken from
// responses that carry an athlete.
func (u *User) Apply(credentials strava.CredentialSet) {
	u.AccessToken = credentials.AccessToken
	u.RefreshToken = credentials.RefreshToken
	u.ExpiresAt = credentials.ExpiresAt
	if credentials.Athlete != nil {
		u.ID = credentials.Athlete.ID
		u.FirstName = credentials.Athlete.FirstName
		u.LastName = credentials.Athlete.LastName
	}
}
