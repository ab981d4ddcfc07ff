package mongodb

const (
	ClientsCollection         = "oauth_clients"
	UsersCollection           = "oauth_users"
	TokensCollection          = "oauth_tokens"
	CodesCollection           = "oauth_auth_codes"
	DeviceAuthCollection      = "device_authorizations"
	CibaRequestsCollection    = "ciba_requests"
	JourneyPoliciesCollection = "journey_policies"
)
