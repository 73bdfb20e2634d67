package models

import "time"

// Websocket message types exchanged on /update.
const (
	MessageRefreshToken      = "refresh_token"
	MessageAccessTokenExpiry = "access_token_expiry"
	MessageResults           = "results"
	MessageScoreUpdate       = "scoreUpdate"
)

// Close reasons sent with websocket close frames. Clients match on the text.
const (
	ReasonSessionExpired    = "Session Expired"
	ReasonLoggedOut         = "Logged Out"
	ReasonProtocolViolation = "Protocol Violation"
	ReasonUnauthenticated   = "Unauthenticated"
	ReasonShutdown          = "Server Shutdown"
)

// Histogram maps every score in range to the number of identities holding it.
// Keys serialize as JSON strings ("7": 2).
type Histogram map[int]int

// Results maps an entry ID to its histogram.
type Results map[string]Histogram

// ClientMessage is a message sent by a client over the websocket.
type ClientMessage struct {
	Type         string `json:"type"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ServerMessage is a message pushed by the server over the websocket.
// Exactly one payload field is set, matching Type.
type ServerMessage struct {
	Type              string       `json:"type"`
	AccessTokenExpiry *int64       `json:"access_token_expiry,omitempty"`
	Results           Results      `json:"results,omitempty"`
	ScoreUpdate       *ScoreUpdate `json:"scoreUpdate,omitempty"`
}

// ScoreUpdate confirms a single identity's new score for one entry.
type ScoreUpdate struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

func NewAccessTokenExpiry(millisRemaining int64) ServerMessage {
	return ServerMessage{Type: MessageAccessTokenExpiry, AccessTokenExpiry: &millisRemaining}
}

func NewResults(results Results) ServerMessage {
	return ServerMessage{Type: MessageResults, Results: results}
}

func NewScoreUpdate(entryID string, score int) ServerMessage {
	return ServerMessage{Type: MessageScoreUpdate, ScoreUpdate: &ScoreUpdate{ID: entryID, Score: score}}
}

// Credential issuance
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AccessInfoResponse struct {
	Username           string    `json:"username"`
	AccessToken        string    `json:"access_token"`
	AccessTokenExpiry  time.Time `json:"access_token_expiry"`
	RefreshToken       string    `json:"refresh_token"`
	RefreshTokenExpiry time.Time `json:"refresh_token_expiry"`
}

// Entries
type Entry struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type EntryResponse struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Score      int            `json:"score"`
}

type UpdateEntryRequest struct {
	Update string `json:"update"` // only "score" is supported
	Score  *int   `json:"score"`
}

// Public configuration
type PublicConfigResponse struct {
	MaxScore             int   `json:"maxScore"`
	SentinelScore        int   `json:"sentinelScore"`
	RefreshLeewayMs      int64 `json:"refreshLeewayMs"`
	MinRefreshIntervalMs int64 `json:"minRefreshIntervalMs"`
}

// Error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
