package idptest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (p *Provider) buildRouter() *mux.Router {
	r := mux.NewRouter()
	realm := r.PathPrefix("/realms/{realm}").Subrouter()
	realm.Use(p.requireRealm)
	realm.HandleFunc("/.well-known/openid-configuration", p.Discovery()).Methods(http.MethodGet)
	oidc := realm.PathPrefix("/protocol/openid-connect").Subrouter()
	oidc.HandleFunc("/auth", p.LoginForm()).Methods(http.MethodGet)
	oidc.HandleFunc("/auth", p.LoginSubmit()).Methods(http.MethodPost)
	oidc.HandleFunc("/token", p.Token()).Methods(http.MethodPost)
	oidc.HandleFunc("/logout", p.Logout()).Methods(http.MethodGet, http.MethodPost)
	return r
}

func (p *Provider) requireRealm(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["realm"] != p.Realm {
			p.logApiErr(r, "unknown realm")
			returnJson(w, http.StatusNotFound, oauthError{Error: "Realm does not exist"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type discoveryDocument struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	EndSessionEndpoint    string   `json:"end_session_endpoint"`
	GrantTypesSupported   []string `json:"grant_types_supported"`
	CodeChallengeMethods  []string `json:"code_challenge_methods_supported"`
}

func (p *Provider) Discovery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.discoveryCount.Add(1)

		p.mu.Lock()
		gate := p.gate
		p.mu.Unlock()
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}

		if p.failDiscovery.Load() {
			p.logApiErr(r, "discovery failure requested")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		returnJson(w, http.StatusOK, discoveryDocument{
			Issuer:                p.Issuer(),
			AuthorizationEndpoint: p.endpoint("auth"),
			TokenEndpoint:         p.endpoint("token"),
			EndSessionEndpoint:    p.endpoint("logout"),
			GrantTypesSupported:   []string{"authorization_code", "refresh_token"},
			CodeChallengeMethods:  []string{"S256"},
		})
	}
}

var loginTemplate = template.Must(template.New("login").Parse(`<!doctype html>
<html>
<head><title>Sign in to {{.Realm}}</title></head>
<body>
<h1>Sign in to your account</h1>
{{if .Error}}<p id="input-error">{{.Error}}</p>{{end}}
<form id="kc-form-login" method="post" action="">
<input type="hidden" name="client_id" value="{{.Request.ClientID}}">
<input type="hidden" name="redirect_uri" value="{{.Request.RedirectURI}}">
<input type="hidden" name="state" value="{{.Request.State}}">
<input type="hidden" name="code_challenge" value="{{.Request.Challenge}}">
<input type="hidden" name="code_challenge_method" value="{{.Request.ChallengeMode}}">
<label for="username">Username</label>
<input id="username" name="username" type="text" autofocus>
<label for="password">Password</label>
<input id="password" name="password" type="password">
<input id="kc-login" name="login" type="submit" value="Sign In">
</form>
</body>
</html>
`))

type loginPage struct {
	Realm   string
	Request authorizationRequest
	Error   string
}

func (p *Provider) LoginForm() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseAuthorizationRequest(r.URL.Query())
		if err != nil {
			p.logApiErr(r, err.Error())
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.renderLogin(w, http.StatusOK, loginPage{Realm: p.Realm, Request: req})
	}
}

func (p *Provider) LoginSubmit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			p.logApiErr(r, "bad form")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		req, err := parseAuthorizationRequest(r.PostForm)
		if err != nil {
			p.logApiErr(r, err.Error())
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		redirect, err := p.authorize(req, r.PostForm.Get("username"), r.PostForm.Get("password"))
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			p.renderLogin(w, http.StatusOK, loginPage{
				Realm:   p.Realm,
				Request: req,
				Error:   "Invalid username or password.",
			})
			return
		case err != nil:
			p.logApiErr(r, err.Error())
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		http.Redirect(w, r, redirect.String(), http.StatusFound)
	}
}

func (p *Provider) renderLogin(w http.ResponseWriter, status int, page loginPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginTemplate.Execute(w, page); err != nil {
		p.logger.Error("render login page", zap.Error(err))
	}
}

type oauthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (p *Provider) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			p.logApiErr(r, "bad form")
			returnJson(w, http.StatusBadRequest, oauthError{Error: "invalid_request"})
			return
		}
		if r.PostForm.Get("client_id") != p.ClientID {
			p.logApiErr(r, "unknown client")
			returnJson(w, http.StatusUnauthorized, oauthError{Error: "unauthorized_client"})
			return
		}

		var (
			tokens *IssuedTokens
			err    error
		)
		switch grant := r.PostForm.Get("grant_type"); grant {
		case "authorization_code":
			p.exchangeCount.Add(1)
			tokens, err = p.exchangeCode(
				r.PostForm.Get("code"),
				r.PostForm.Get("redirect_uri"),
				r.PostForm.Get("code_verifier"),
			)
		case "refresh_token":
			p.refreshCount.Add(1)
			tokens, err = p.exchangeRefresh(r.PostForm.Get("refresh_token"))
		default:
			p.logApiErr(r, "unsupported grant type "+grant)
			returnJson(w, http.StatusBadRequest, oauthError{Error: "unsupported_grant_type"})
			return
		}

		switch {
		case errors.Is(err, ErrInvalidGrant):
			p.logApiErr(r, err.Error())
			returnJson(w, http.StatusBadRequest, oauthError{Error: "invalid_grant", Description: err.Error()})
			return
		case err != nil:
			p.logApiErr(r, err.Error())
			returnJson(w, http.StatusInternalServerError, oauthError{Error: "server_error"})
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		returnJson(w, http.StatusOK, tokens)
	}
}

func (p *Provider) exchangeCode(code string, redirectURI string, verifier string) (*IssuedTokens, error) {
	p.mu.Lock()
	grant, ok := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()

	if !ok {
		return nil, errors.Join(ErrInvalidGrant, errors.New("code not valid"))
	}
	if p.opts.Now().After(grant.expires) {
		return nil, errors.Join(ErrInvalidGrant, errors.New("code expired"))
	}
	if grant.redirectURI != redirectURI {
		return nil, errors.Join(ErrInvalidGrant, errors.New("incorrect redirect_uri"))
	}
	if grant.challenge != "" && s256(verifier) != grant.challenge {
		return nil, errors.Join(ErrInvalidGrant, errors.New("PKCE verification failed"))
	}
	return p.IssueTokens(grant.username, 0)
}

// exchangeRefresh consumes the refresh token and issues a new pair.
func (p *Provider) exchangeRefresh(refreshToken string) (*IssuedTokens, error) {
	if p.failRefresh.Load() {
		return nil, errors.New("refresh failure requested")
	}

	p.mu.Lock()
	grant, ok := p.refresh[refreshToken]
	delete(p.refresh, refreshToken)
	p.mu.Unlock()

	if !ok {
		return nil, errors.Join(ErrInvalidGrant, errors.New("token is not active"))
	}
	if p.opts.Now().After(grant.expires) {
		return nil, errors.Join(ErrInvalidGrant, errors.New("token is expired"))
	}
	return p.IssueTokens(grant.username, 0)
}

func (p *Provider) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.FormValue("post_logout_redirect_uri")
		if target == "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func returnJson(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (p *Provider) logApiErr(r *http.Request, msg string) {
	p.logger.Info("request rejected",
		zap.String("method", r.Method),
		zap.String("uri", r.RequestURI),
		zap.String("reason", msg))
}
