package models

// CredentialSet is the process-wide credential chain as persisted in the vault.
// Version is the vault's optimistic-concurrency counter at read time.
type CredentialSet struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	APIKey       string
	Version      int64
}

// TokenStatus describes the remaining lifetime of both tokens.
type TokenStatus struct {
	AccessExpiresInMs  int64
	RefreshExpiresInMs int64
	AccessExpired      bool
	RefreshExpired     bool
}
