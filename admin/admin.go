// Package admin serves an HTTP endpoint for operators: Prometheus metrics,
// replication status as JSON and a health check.
//
// When a secret is configured, /metrics and /replication require a PASETO v2
// local token in the Authorization header, as produced by NewToken.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strings"
	"time"

	"github.com/o1egl/paseto"
	"github.com/valyala/fasthttp"
)

const tokenSubject = "admin"

// Logger is the logging interface used by the admin server
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Config wires the admin server to the rest of the process.
type Config struct {
	// Secret enables token authentication when non-empty.
	Secret string

	// Metrics writes the Prometheus text exposition.
	Metrics func(w io.Writer)

	// Status returns the replication status served as JSON.
	Status func() interface{}

	// Health reports whether the process can serve traffic.
	Health func() error

	Logger Logger
}

// Server is the admin HTTP server
type Server struct {
	config Config
	key    []byte
	http   *fasthttp.Server
	ln     net.Listener
}

// New creates an admin server.
func New(config Config) *Server {
	s := &Server{config: config}
	if config.Secret != "" {
		s.key = secretKey(config.Secret)
	}
	if s.config.Logger == nil {
		s.config.Logger = nopLogger{}
	}
	s.http = &fasthttp.Server{
		Handler:      s.Handler(),
		Name:         "redis-server-admin",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// secretKey turns a passphrase into the 32-byte key PASETO v2 local needs.
func secretKey(secret string) []byte {
	return []byte(fmt.Sprintf("%-32s", secret))[:32]
}

// NewToken issues a token accepted by a server configured with secret.
func NewToken(secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("admin: empty secret")
	}
	now := time.Now()
	return paseto.NewV2().Encrypt(secretKey(secret), paseto.JSONToken{
		Subject:    tokenSubject,
		IssuedAt:   now,
		Expiration: now.Add(ttl),
	}, "")
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin: listen on %s: %w", addr, err)
	}
	s.ln = ln
	s.config.Logger.Info("Admin endpoint listening", "addr", ln.Addr().String())

	go func() {
		if err := s.http.Serve(ln); err != nil {
			s.config.Logger.Error("Admin endpoint stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close stops the server.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.http.Shutdown()
}

// Handler returns the request handler, for embedding in another fasthttp server.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer s.recoverPanic(ctx)

		if !ctx.IsGet() && !ctx.IsHead() {
			ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			return
		}

		switch string(ctx.Path()) {
		case "/healthz":
			s.handleHealth(ctx)
		case "/metrics":
			if s.authorize(ctx) {
				s.handleMetrics(ctx)
			}
		case "/replication":
			if s.authorize(ctx) {
				s.handleReplication(ctx)
			}
		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}
}

func (s *Server) authorize(ctx *fasthttp.RequestCtx) bool {
	if s.key == nil {
		return true
	}

	token := strings.TrimSpace(string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)))
	token = strings.TrimPrefix(token, "Bearer ")

	var claims paseto.JSONToken
	var footer string
	err := paseto.NewV2().Decrypt(token, s.key, &claims, &footer)
	if err == nil {
		err = claims.Validate(paseto.ValidAt(time.Now()), paseto.Subject(tokenSubject))
	}
	if err != nil {
		s.config.Logger.Debug("Admin request rejected", "remote", ctx.RemoteAddr().String(), "error", err)
		ctx.Error("Unauthorized", fasthttp.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	if s.config.Health != nil {
		if err := s.config.Health(); err != nil {
			ctx.Error(err.Error(), fasthttp.StatusServiceUnavailable)
			return
		}
	}
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.WriteString("ok\n")
}

func (s *Server) handleMetrics(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("text/plain; version=0.0.4; charset=utf-8")
	if s.config.Metrics != nil {
		s.config.Metrics(ctx)
	}
}

func (s *Server) handleReplication(ctx *fasthttp.RequestCtx) {
	var status interface{} = map[string]interface{}{}
	if s.config.Status != nil {
		status = s.config.Status()
	}
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(status); err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
	}
}

func (s *Server) recoverPanic(ctx *fasthttp.RequestCtx) {
	if r := recover(); r != nil {
		s.config.Logger.Error("Admin handler panic", "panic", r, "stack", string(debug.Stack()))
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, fields ...interface{}) {}
func (nopLogger) Info(msg string, fields ...interface{})  {}
func (nopLogger) Error(msg string, fields ...interface{}) {}
