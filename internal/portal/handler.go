package portal

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spotfi/spotfi/internal/netutil"
	"github.com/spotfi/spotfi/internal/radauth"
)

// Authenticator verifies portal credentials against the RADIUS service.
type Authenticator interface {
	Authenticate(ctx context.Context, req radauth.AuthRequest) (bool, error)
}

// genericAuthError is shown for RADIUS rejects and unresolvable routers
// alike, so the portal never confirms which usernames or routers exist.
const genericAuthError = "Authentication failed"

const defaultUAMPort = 3990

var loginTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>WiFi Login</title></head>
<body>
<h1>Connect to WiFi</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="POST" action="/uam/login">
<input type="hidden" name="uamip" value="{{.UAMIP}}">
<input type="hidden" name="uamport" value="{{.UAMPort}}">
<input type="hidden" name="challenge" value="{{.Challenge}}">
<input type="hidden" name="mac" value="{{.MAC}}">
<input type="hidden" name="called" value="{{.Called}}">
<input type="hidden" name="nasid" value="{{.NASID}}">
<input type="hidden" name="sessionid" value="{{.SessionID}}">
<input type="hidden" name="userurl" value="{{.UserURL}}">
<label>Username <input type="text" name="username" autocomplete="username"></label>
<label>Password <input type="password" name="password" autocomplete="current-password"></label>
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

var diagnosticTmpl = template.Must(template.New("diagnostic").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Connection problem</title></head>
<body>
<h1>Connection problem</h1>
<p>Your device keeps bouncing between this page and the WiFi gateway.
Turn WiFi off and on again, then retry. If the problem persists, contact the
venue staff.</p>
</body>
</html>
`))

// Handlers is the portal HTTP surface.
type Handlers struct {
	routers          RouterSource
	auth             Authenticator
	redirects        RedirectPolicy
	limiter          *RateLimiter
	loops            *LoopGuard
	allowPublicUAMIP bool
	allowIPv6        bool
}

// HandlersConfig wires the pipeline's collaborators.
type HandlersConfig struct {
	Routers          RouterSource
	Auth             Authenticator
	Redirects        RedirectPolicy
	Limiter          *RateLimiter
	Loops            *LoopGuard
	AllowPublicUAMIP bool
	// AllowIPv6 accepts IPv6 gateway addresses. Most hotspot firmwares run
	// the UAM listener on IPv4 only, so this is off by default.
	AllowIPv6 bool
}

func NewHandlers(cfg HandlersConfig) *Handlers {
	h := &Handlers{
		routers:          cfg.Routers,
		auth:             cfg.Auth,
		redirects:        cfg.Redirects,
		limiter:          cfg.Limiter,
		loops:            cfg.Loops,
		allowPublicUAMIP: cfg.AllowPublicUAMIP,
		allowIPv6:        cfg.AllowIPv6,
	}
	if h.limiter == nil {
		h.limiter = NewRateLimiter(0, 0, 0)
	}
	if h.loops == nil {
		h.loops = NewLoopGuard(0, 0)
	}
	return h
}

// Mount registers the UAM routes.
func (h *Handlers) Mount(mux *http.ServeMux) {
	mux.Handle("GET /uam/login", SecurityHeaders(http.HandlerFunc(h.loginForm)))
	mux.Handle("POST /uam/login", SecurityHeaders(http.HandlerFunc(h.login)))
	mux.Handle("GET /uam/logout", SecurityHeaders(http.HandlerFunc(h.logout)))
}

// SecurityHeaders stamps every portal response with the browser hardening
// set. Hotspot clients render this page from an untrusted network position.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hd := w.Header()
		hd.Set("Content-Security-Policy",
			"default-src 'self'; frame-ancestors 'none'; form-action 'self' http:")
		hd.Set("X-Content-Type-Options", "nosniff")
		hd.Set("X-Frame-Options", "DENY")
		hd.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		hd.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

// uamParams are the router-supplied query/form fields, echoed back into the
// form. Template rendering HTML-escapes every one of them.
type uamParams struct {
	UAMIP     string
	UAMPort   int
	Challenge string
	MAC       string
	Called    string
	NASID     string
	SessionID string
	UserURL   string
	Error     string
}

func parseUAMParams(get func(string) string) uamParams {
	port := defaultUAMPort
	if p, err := strconv.Atoi(get("uamport")); err == nil && p > 0 && p <= 65535 {
		port = p
	}
	return uamParams{
		UAMIP:     get("uamip"),
		UAMPort:   port,
		Challenge: get("challenge"),
		MAC:       get("mac"),
		Called:    get("called"),
		NASID:     get("nasid"),
		SessionID: get("sessionid"),
		UserURL:   get("userurl"),
	}
}

func (h *Handlers) validUAMIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if parsed.To4() == nil && !h.allowIPv6 {
		return false
	}
	if h.allowPublicUAMIP {
		return true
	}
	return netutil.IsPrivateAddress(ip)
}

func clientKey(r *http.Request, mac string) string {
	if norm := NormalizeMAC(mac); norm != "" {
		return norm
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handlers) renderForm(w http.ResponseWriter, status int, p uamParams) {
	p.UserURL = h.redirects.Sanitize(p.UserURL)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginTmpl.Execute(w, p); err != nil {
		log.Printf("[portal] render form: %v", err)
	}
}

func (h *Handlers) renderDiagnostic(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := diagnosticTmpl.Execute(w, nil); err != nil {
		log.Printf("[portal] render diagnostic: %v", err)
	}
}

// loginForm serves the challenge form (GET /uam/login).
func (h *Handlers) loginForm(w http.ResponseWriter, r *http.Request) {
	p := parseUAMParams(r.URL.Query().Get)
	if !h.validUAMIP(p.UAMIP) {
		http.Error(w, "invalid uamip", http.StatusBadRequest)
		return
	}

	if _, err := ResolveRouter(r.Context(), h.routers, p.Called, p.NASID, remoteHost(r)); err != nil {
		if errors.Is(err, ErrRouterNotFound) {
			http.Error(w, genericAuthError, http.StatusForbidden)
			return
		}
		http.Error(w, "service unavailable", http.StatusBadGateway)
		return
	}

	if h.loops.Looping(p.SessionID, p.UserURL) {
		h.renderDiagnostic(w)
		return
	}
	h.renderForm(w, http.StatusOK, p)
}

// login performs the UAM handshake (POST /uam/login).
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}
	p := parseUAMParams(r.PostForm.Get)
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	if ok, retryAfter := h.limiter.Allow(clientKey(r, p.MAC)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		http.Error(w,
			fmt.Sprintf("too many attempts, try again in %d seconds", int(retryAfter.Seconds())),
			http.StatusTooManyRequests)
		return
	}

	if !h.validUAMIP(p.UAMIP) || p.Challenge == "" || username == "" || password == "" {
		http.Error(w, "invalid parameters", http.StatusBadRequest)
		return
	}

	router, err := ResolveRouter(r.Context(), h.routers, p.Called, p.NASID, remoteHost(r))
	if err != nil {
		if errors.Is(err, ErrRouterNotFound) {
			http.Error(w, genericAuthError, http.StatusForbidden)
			return
		}
		http.Error(w, "service unavailable", http.StatusBadGateway)
		return
	}

	accepted, err := h.auth.Authenticate(r.Context(), radauth.AuthRequest{
		Username:      username,
		Password:      password,
		Secret:        router.RadiusSecret,
		NASIPAddress:  router.NASIPAddress,
		NASIdentifier: router.Name,
	})
	if err != nil {
		log.Printf("[portal] radius exchange for %s: %v", router.ID, err)
		http.Error(w, "service unavailable", http.StatusBadGateway)
		return
	}
	if !accepted {
		p.Error = genericAuthError
		h.renderForm(w, http.StatusUnauthorized, p)
		return
	}

	chap, err := ChapResponse(0, router.UAMSecret, p.Challenge)
	if err != nil {
		http.Error(w, "invalid parameters", http.StatusBadRequest)
		return
	}

	dest := fmt.Sprintf("http://%s/logon?response=%s&userurl=%s",
		net.JoinHostPort(p.UAMIP, strconv.Itoa(p.UAMPort)),
		chap,
		url.QueryEscape(h.redirects.Sanitize(p.UserURL)))
	http.Redirect(w, r, dest, http.StatusFound)
}

// logout bounces the client to the hotspot's local logout endpoint
// (GET /uam/logout).
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	p := parseUAMParams(r.URL.Query().Get)
	if !h.validUAMIP(p.UAMIP) {
		http.Error(w, "invalid uamip", http.StatusBadRequest)
		return
	}
	dest := fmt.Sprintf("http://%s/logout",
		net.JoinHostPort(p.UAMIP, strconv.Itoa(p.UAMPort)))
	http.Redirect(w, r, dest, http.StatusFound)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
