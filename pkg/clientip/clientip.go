package clientip

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Config lists the headers trusted to carry the client address, in priority order.
type Config struct {
	TrustedHeaders []string `env:"TRUSTED_IP_HEADERS" envSeparator:","`
}

// Resolver extracts client addresses from requests.
type Resolver struct {
	headers []string
}

func New(cfg Config) *Resolver {
	headers := make([]string, 0, len(cfg.TrustedHeaders))
	for _, h := range cfg.TrustedHeaders {
		if h = strings.TrimSpace(h); h != "" {
			headers = append(headers, http.CanonicalHeaderKey(h))
		}
	}
	return &Resolver{headers: headers}
}

// IP returns the first valid address from the trusted headers, falling back
// to the socket peer. X-Forwarded-For style lists yield their first entry.
func (res *Resolver) IP(r *http.Request) string {
	for _, h := range res.headers {
		for v := range strings.SplitSeq(r.Header.Get(h), ",") {
			if ip := parseIP(v); ip != "" {
				return ip
			}
		}
	}
	return peer(r.RemoteAddr)
}

// Middleware stores the resolved address in the request context.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithIP(r.Context(), res.IP(r))))
	})
}

type ipKey struct{}

func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

func FromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey{}).(string)
	return ip
}

// FromRequest prefers the address stored by Middleware and otherwise uses
// the socket peer.
func FromRequest(r *http.Request) string {
	if ip := FromContext(r.Context()); ip != "" {
		return ip
	}
	return peer(r.RemoteAddr)
}

func peer(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if ip := parseIP(host); ip != "" {
		return ip
	}
	return addr
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
