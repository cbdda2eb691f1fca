package twitch

import (
	"golang.org/x/oauth2"
	oauthtwitch "golang.org/x/oauth2/twitch"
)

// userScopes is what the registration flow asks the broadcaster to grant.
var userScopes = []string{"user:read:email"}

// Authorizer builds the Twitch consent URL the broadcaster is sent to.
type Authorizer struct {
	oauth *oauth2.Config
}

func NewAuthorizer(clientID, clientSecret, redirectURL string) *Authorizer {
	return &Authorizer{oauth: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       userScopes,
		Endpoint:     oauthtwitch.Endpoint,
	}}
}

// AuthURL returns the authorize URL carrying state back to the caller.
func (a *Authorizer) AuthURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}
