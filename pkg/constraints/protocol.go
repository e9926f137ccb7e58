package constraints

// Session cookies issued by the backend. Their values are opaque to the gateway.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// Backend endpoints the session layer needs to know about.
const (
	RefreshEndpoint      = "/token/refresh/"
	CheckSessionEndpoint = "/check-session/"
)

// AuthEndpointMarkers identify endpoints whose 401 must never trigger a refresh.
var AuthEndpointMarkers = []string{"/token/refresh", "/login", "/register"}

// ProxyPrefix is the same-origin path the browser uses to reach the backend.
const ProxyPrefix = "/api/auth"
