package server

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("GET "+RouteHome, ChainMiddleware(s.HomeHandler(), s.BrowserMiddleware()...))

	// Browser flow: session cookie, rate limited login and callback
	s.RegisterRouteHandler("GET "+RouteLogin, ChainMiddleware(s.LoginHandler(), s.BrowserMiddleware(s.RateLimitMiddleware)...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.BrowserMiddleware(s.RateLimitMiddleware)...))
	s.RegisterRouteHandler("GET "+RouteCallbackNoAcct, ChainMiddleware(s.CallbackHandler(), s.BrowserMiddleware(s.RateLimitMiddleware)...))
	s.RegisterRouteHandler("GET "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.BrowserMiddleware()...))

	// Session JSON API used by the front end and the migration client
	s.RegisterRouteHandler("GET "+RouteStatus, ChainMiddleware(s.StatusHandler(), s.APIMiddleware(s.SessionMiddleware)...))
	s.RegisterRouteHandler("GET "+RouteLogoutAccount, ChainMiddleware(s.LogoutAccountHandler(), s.APIMiddleware(s.SessionMiddleware)...))
	s.RegisterRouteHandler("GET "+RouteProfile, ChainMiddleware(s.ProfileHandler(), s.APIMiddleware(s.SessionMiddleware)...))
	s.RegisterRouteHandler("GET "+RouteToken, ChainMiddleware(s.TokenHandler(), s.APIMiddleware(s.SessionMiddleware)...))

	// Operator routes
	s.RegisterRouteHandler("GET "+RoutePoolStats, ChainMiddleware(s.PoolStatsHandler(), s.APIMiddleware(s.RequireAdmin)...))
	s.RegisterRouteHandler("GET "+RoutePoolOverloaded, ChainMiddleware(s.PoolOverloadedHandler(), s.APIMiddleware(s.RequireAdmin)...))
	s.RegisterRouteHandler("POST "+RoutePoolSlotActive, ChainMiddleware(s.SetSlotActiveHandler(), s.APIMiddleware(s.RequireAdmin)...))
	s.RegisterRouteHandler("DELETE "+RoutePoolReleaseUser, ChainMiddleware(s.ReleaseUserHandler(), s.APIMiddleware(s.RequireAdmin)...))
}
