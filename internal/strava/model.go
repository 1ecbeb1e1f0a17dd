package strava

import (
	"fmt"
	"time"
)

// Grant types accepted by the upstream token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// ActivityRecord is one upstream activity summary as returned by the activity list endpoint.
// Distance is in meters and AverageSpeed in m/s.
type ActivityRecord struct {
	ID                 int64       `json:"id"`
	Name               string      `json:"name"`
	Distance           float64     `json:"distance"`
	StartDate          time.Time   `json:"start_date"`
	AverageSpeed       float64     `json:"average_speed"`
	MovingTime         int64       `json:"moving_time"`
	ElapsedTime        int64       `json:"elapsed_time"`
	TotalElevationGain float64     `json:"total_elevation_gain"`
	Athlete            AthleteRef  `json:"athlete"`
	Map                ActivityMap `json:"map"`
}

// AthleteRef is the owner reference embedded in an activity summary.
type AthleteRef struct {
	ID int64 `json:"id"`
}

// ActivityMap carries the encoded route geometry of an activity.
type ActivityMap struct {
	SummaryPolyline string `json:"summary_polyline"`
}

// Athlete is the profile returned alongside the initial authorization code exchange.
type Athlete struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// CredentialSet is the token endpoint response. Athlete is only present on the
// authorization code exchange.
type CredentialSet struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAt    int64    `json:"expires_at"`
	Athlete      *Athlete `json:"athlete,omitempty"`
}

// TokenRequest selects which grant to perform against the token endpoint.
type TokenRequest struct {
	GrantType    string
	Code         string
	RefreshToken string
}

// AuthorizationCodeRequest builds the initial exchange request for a redirect code.
func AuthorizationCodeRequest(code string) TokenRequest {
	return TokenRequest{GrantType: GrantTypeAuthorizationCode, Code: code}
}

// RefreshRequest builds a renewal request for a stored refresh token.
func RefreshRequest(refreshToken string) TokenRequest {
	return TokenRequest{GrantType: GrantTypeRefreshToken, RefreshToken: refreshToken}
}

// APIError reports a non-success upstream response.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strava: %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}
