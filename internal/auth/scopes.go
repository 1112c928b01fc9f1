package auth

// OAuth scopes understood by the reserve API.
const (
	ScopeReserveRead  = "reserve:read"
	ScopeReserveWrite = "reserve:write"
	ScopeReserveAdmin = "reserve:admin"
)
