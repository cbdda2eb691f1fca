// Package twitch talks to the Twitch Helix API and receives EventSub webhooks.
//
// Client wraps the handful of Helix endpoints the service needs and classifies
// every non-success response into a platform error. TokenCache owns the app
// access token. WebhookHandler verifies inbound callbacks before anything
// parses the body and routes the three EventSub message types.
package twitch
