package domain

import "errors"

var (
	ErrBroadcasterNotFound  = errors.New("broadcaster not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrRegistrationExists   = errors.New("registration already exists")
	ErrSubscriptionStale    = errors.New("stored subscription changed")
)
