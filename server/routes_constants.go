package server

// Route path constants
const (
	// Session inspection and maintenance
	RouteSession        = "/session"
	RouteSessionRefresh = "/session/refresh"

	// Login & Logout
	RouteAuthLogin = "/auth/login"
	RouteCallback  = "/auth/callback"
	RouteLogout    = "/logout"

	// API Routes
	RouteAPIMe = "/api/me"
)

// Query parameters
const (
	ParamIdP         = "idp"
	ParamForce       = "force"
	ParamRedirectURI = "redirect_uri"
	ParamCode        = "code"
	ParamState       = "state"
	ParamError       = "error"
)
