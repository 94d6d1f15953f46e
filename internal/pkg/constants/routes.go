package constants

// Static route constants
const (
	PublicRoute = "/"
	HealthRoute = "/health"
	APIRoute    = "/api"

	MonitorRoute = "/monitor"
)
