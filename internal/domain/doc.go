// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (registry.go, twitch.go, webhook.go) hold the shared
// types and the contracts adapters implement. No implementation code lives here.
package domain
