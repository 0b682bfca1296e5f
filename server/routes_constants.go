package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes - one login per account
	RouteLogin           = "/login/{account}"
	RouteCallback        = "/callback/{account}"
	RouteCallbackNoAcct  = "/callback" // account recovered from the state prefix
	RouteStatus          = "/status"
	RouteLogout          = "/logout"
	RouteLogoutAccount   = "/logout/{account}"
	RouteProfile         = "/profile/{account}"
	RouteToken           = "/token/{account}"
	RouteHealth          = "/healthz"
	RouteHome            = "/{$}"
	routeLoginFormat     = "/login/%s"
	RoutePoolStats       = "/pool/stats"
	RoutePoolOverloaded  = "/pool/overloaded"
	RoutePoolSlotActive  = "/pool/slots/{id}/active"
	RoutePoolReleaseUser = "/pool/users/{userID}"
)
