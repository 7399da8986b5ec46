package constants

// Static route constants
const (
	APIRoute   = "/api"
	APIv1Route = "/api/v1"

	SubscriptionRoute = "/subscription"
	WebhookRoute      = "/webhooks/paygate"
)
