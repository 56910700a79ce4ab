package models

// TokenStatus is the lifecycle position of the broker access token.
type TokenStatus int

const (
	// TokenUnconfigured means no access token is known.
	TokenUnconfigured TokenStatus = iota
	// TokenPending means an access token was loaded from configuration but has not
	// been confirmed by a successful broker call yet.
	TokenPending
	// TokenValid means the last broker interaction accepted the token.
	TokenValid
	// TokenInvalid means the broker rejected the token or a regeneration failed.
	TokenInvalid
)

func (s TokenStatus) String() string {
	switch s {
	case TokenPending:
		return "pending"
	case TokenValid:
		return "valid"
	case TokenInvalid:
		return "invalid"
	default:
		return "unconfigured"
	}
}

// TokenState is a point-in-time copy of the token manager state.
type TokenState struct {
	AccessToken  string
	RequestToken string
	Status       TokenStatus
	LastError    string
}

// IsValid reports whether the token has been confirmed by a successful fetch.
func (t TokenState) IsValid() bool {
	return t.Status == TokenValid
}

// Pollable reports whether scheduled polling should be attempted. A pending
// token is polled too, since a successful fetch is what verifies it.
func (t TokenState) Pollable() bool {
	return t.Status == TokenValid || t.Status == TokenPending
}

// MaskToken keeps the last four characters of a secret for logging.
func MaskToken(tok string) string {
	if len(tok) <= 4 {
		return "****"
	}
	return "****" + tok[len(tok)-4:]
}
