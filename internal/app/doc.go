// Package app provides the application service layer.
//
// Service keeps remote EventSub subscriptions in step with the registration
// reference count. Dispatcher acts on verified webhook events. Sweeper
// periodically reconciles remote subscriptions with the registry.
package app
