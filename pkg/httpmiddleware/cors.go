package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

const defaultCORSMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"

// CORSConfig configures cross-origin access to the API.
type CORSConfig struct {
	// AllowOrigins lists exact origins or subdomain patterns such as
	// "https://*.example.com". Empty or "*" allows every origin.
	AllowOrigins []string
	// AllowMethods defaults to GET, POST, PUT, PATCH, DELETE and OPTIONS.
	AllowMethods []string
	// AllowHeaders defaults to echoing Access-Control-Request-Headers.
	AllowHeaders  []string
	ExposeHeaders []string
	// AllowCredentials disables the wildcard origin; matching origins are
	// echoed instead.
	AllowCredentials bool
	// MaxAge is the preflight cache time in seconds. Zero omits the header,
	// a negative value sends 0.
	MaxAge int
}

// corsPolicy is CORSConfig with the header values rendered once.
type corsPolicy struct {
	any      bool
	exact    map[string]string // lower-cased origin -> configured spelling
	suffixes []originPattern

	methods     string
	headers     string
	expose      string
	credentials bool
	maxAge      string
}

type originPattern struct {
	scheme string // "https://"
	suffix string // ".example.com"
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		any:         len(cfg.AllowOrigins) == 0,
		exact:       make(map[string]string, len(cfg.AllowOrigins)),
		methods:     strings.Join(cfg.AllowMethods, ", "),
		headers:     strings.Join(cfg.AllowHeaders, ", "),
		expose:      strings.Join(cfg.ExposeHeaders, ", "),
		credentials: cfg.AllowCredentials,
	}
	for _, o := range cfg.AllowOrigins {
		switch scheme, host, ok := strings.Cut(o, "://*."); {
		case o == "*":
			p.any = true
		case ok:
			p.suffixes = append(p.suffixes, originPattern{
				scheme: strings.ToLower(scheme) + "://",
				suffix: "." + strings.ToLower(host),
			})
		default:
			p.exact[strings.ToLower(o)] = o
		}
	}
	// Browsers reject credentials with "*".
	if p.credentials {
		p.any = false
	}
	if p.methods == "" {
		p.methods = defaultCORSMethods
	}
	switch {
	case cfg.MaxAge > 0:
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		p.maxAge = "0"
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when the origin is not allowed.
func (p *corsPolicy) allowOrigin(origin string) string {
	if p.any {
		return "*"
	}
	lower := strings.ToLower(origin)
	if o, ok := p.exact[lower]; ok {
		return o
	}
	for _, pat := range p.suffixes {
		rest, ok := strings.CutPrefix(lower, pat.scheme)
		if ok && strings.HasSuffix(rest, pat.suffix) && len(rest) > len(pat.suffix) {
			return origin
		}
	}
	return ""
}

func (p *corsPolicy) preflight(w http.ResponseWriter, r *http.Request, allow string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")
	if allow == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.Set("Access-Control-Allow-Origin", allow)
	h.Set("Access-Control-Allow-Methods", p.methods)
	if p.headers != "" {
		h.Set("Access-Control-Allow-Headers", p.headers)
	} else if rh := r.Header.Get("Access-Control-Request-Headers"); rh != "" {
		h.Set("Access-Control-Allow-Headers", rh)
	}
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.maxAge != "" {
		h.Set("Access-Control-Max-Age", p.maxAge)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *corsPolicy) actual(w http.ResponseWriter, allow string) {
	h := w.Header()
	if !p.any {
		h.Add("Vary", "Origin")
	}
	if allow == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", allow)
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.expose != "" {
		h.Set("Access-Control-Expose-Headers", p.expose)
	}
}

// CORS answers preflight requests itself and decorates other cross-origin
// responses. Requests without an Origin header pass through untouched
// apart from Vary.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				if !p.any {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			allow := p.allowOrigin(origin)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, r, allow)
				return
			}
			p.actual(w, allow)
			next.ServeHTTP(w, r)
		})
	}
}
