package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// Origins is a case-insensitive origin allow list. The zero value, or a list
// containing "*", allows every origin.
type Origins struct {
	any     bool
	allowed map[string]string // lowercase -> configured spelling
}

// NewOrigins builds an allow list from configured origins.
func NewOrigins(list []string) Origins {
	o := Origins{any: len(list) == 0, allowed: make(map[string]string, len(list))}
	for _, s := range list {
		if s == "*" {
			o.any = true
			continue
		}
		o.allowed[strings.ToLower(s)] = s
	}
	return o
}

// Match returns the Access-Control-Allow-Origin value for origin, or "" if
// the origin is rejected.
func (o Origins) Match(origin string) string {
	if o.any || o.allowed == nil {
		return "*"
	}
	return o.allowed[strings.ToLower(origin)]
}

// CheckRequest reports whether the Origin of r is allowed. Requests without
// an Origin header are not cross-origin and pass. It fits
// websocket.Upgrader.CheckOrigin.
func (o Origins) CheckRequest(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || o.Match(origin) != ""
}

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	AllowOrigins []string
	// AllowMethods defaults to GET, POST, PUT, PATCH, DELETE, OPTIONS.
	AllowMethods []string
	// AllowHeaders echoes Access-Control-Request-Headers when empty.
	AllowHeaders  []string
	ExposeHeaders []string
	// AllowCredentials disables the wildcard origin.
	AllowCredentials bool
	// MaxAge in seconds. Zero omits the header, negative sends 0.
	MaxAge int
}

type corsHeaders struct {
	methods     string
	headers     string
	expose      string
	maxAge      string
	credentials bool
}

// CORS answers preflight requests with 204 without reaching next and
// decorates actual cross-origin requests.
func CORS(cfg CORSConfig) Middleware {
	origins := NewOrigins(cfg.AllowOrigins)
	if cfg.AllowCredentials && origins.any {
		// Browsers reject credentials with a wildcard origin.
		origins.any = false
	}

	h := corsHeaders{
		methods:     strings.Join(cfg.AllowMethods, ", "),
		headers:     strings.Join(cfg.AllowHeaders, ", "),
		expose:      strings.Join(cfg.ExposeHeaders, ", "),
		credentials: cfg.AllowCredentials,
	}
	if h.methods == "" {
		h.methods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	}
	switch {
	case cfg.MaxAge > 0:
		h.maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		h.maxAge = "0"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !origins.any {
				w.Header().Add("Vary", "Origin")
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allow := origins.Match(origin)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.preflight(w, r, allow)
				return
			}

			if allow != "" {
				w.Header().Set("Access-Control-Allow-Origin", allow)
				if h.credentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if h.expose != "" {
					w.Header().Set("Access-Control-Expose-Headers", h.expose)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h corsHeaders) preflight(w http.ResponseWriter, r *http.Request, allow string) {
	hdr := w.Header()
	hdr.Add("Vary", "Access-Control-Request-Method")
	hdr.Add("Vary", "Access-Control-Request-Headers")

	if allow != "" {
		hdr.Set("Access-Control-Allow-Origin", allow)
		hdr.Set("Access-Control-Allow-Methods", h.methods)
		switch requested := r.Header.Get("Access-Control-Request-Headers"); {
		case h.headers != "":
			hdr.Set("Access-Control-Allow-Headers", h.headers)
		case requested != "":
			hdr.Set("Access-Control-Allow-Headers", requested)
		}
		if h.credentials {
			hdr.Set("Access-Control-Allow-Credentials", "true")
		}
		if h.maxAge != "" {
			hdr.Set("Access-Control-Max-Age", h.maxAge)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
