package oidc

// EndSessionRequest is sent to the provider's end_session
// endpoint on a logout with provider notification.
type EndSessionRequest struct {
	IdTokenHint           string `schema:"id_token_hint,omitempty"`
	ClientID              string `schema:"client_id,omitempty"`
	PostLogoutRedirectURI string `schema:"post_logout_redirect_uri,omitempty"`
	State                 string `schema:"state,omitempty"`
}
