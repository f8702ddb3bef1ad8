package gateway

import "net/http"

// TokenSource supplies the bearer credential for outgoing requests.
// Absence is reported with ok == false and is not an error.
type TokenSource interface {
	CurrentToken() (token string, ok bool)
}

// bearerTransport asks the token source at the moment of every request.
// Only requests to host carry the credential, redirect hops included.
type bearerTransport struct {
	tokens TokenSource
	host   string
	next   http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.tokens == nil || req.URL.Host != t.host {
		return t.next.RoundTrip(req)
	}
	token, ok := t.tokens.CurrentToken()
	if !ok || token == "" {
		return t.next.RoundTrip(req)
	}

	// RoundTrippers must not modify the caller's request
	authorized := req.Clone(req.Context())
	authorized.Header.Set("Authorization", "Bearer "+token)
	return t.next.RoundTrip(authorized)
}
