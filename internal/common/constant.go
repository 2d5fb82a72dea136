package common

// Vault keys under which the credential set is persisted.
const (
	SecretAccessToken  = "ACCESS_TOKEN"
	SecretRefreshToken = "REFRESH_TOKEN"
	SecretClientSecret = "CLIENT_SECRET"
	SecretAPIKey       = "API_KEY"
)

// Logical endpoint names recorded in the API-call audit log.
const (
	EndpointCreateAsset         = "createAsset"
	EndpointCreateAssetOriginal = "createAssetOriginal"
	EndpointRefreshToken        = "refreshToken"
	EndpointAuthorizationCode   = "authorizationCode"
)

// DefaultPrefixLimit is how many head bytes of an object are read for
// metadata extraction.
const DefaultPrefixLimit = 128 * 1024
