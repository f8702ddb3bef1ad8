/*
Package idptest runs a realm-scoped OpenID identity provider in-process for
tests.

The provider serves the paths a Keycloak realm does:

	GET  /realms/{realm}/.well-known/openid-configuration
	GET  /realms/{realm}/protocol/openid-connect/auth     (login form)
	POST /realms/{realm}/protocol/openid-connect/auth     (form submit)
	POST /realms/{realm}/protocol/openid-connect/token    (code and refresh grants)
	GET  /realms/{realm}/protocol/openid-connect/logout

Tests can count discovery and refresh requests, hold or fail discovery,
fail refreshes, and mint tokens directly with IssueTokens. CompleteLogin
signs a user in without a browser and returns the callback URL.

	idp := idptest.Start(t, idptest.Options{
	    Users: []idptest.User{{Username: "alice", Password: "wonderland"}},
	})
	callback, err := idp.CompleteLogin(loginURL, "alice", "wonderland")
*/
package idptest
