// Package gatewayapi exposes the gateway's typed HTTP surfaces: session
// lifecycle, onboarding chat, policy templates, and SSE event streams,
// routed with gorilla/mux.
package gatewayapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/enclagent/gateway/domain/eventbus"
	"github.com/enclagent/gateway/domain/onboarding"
	"github.com/enclagent/gateway/domain/policy"
	"github.com/enclagent/gateway/domain/provisioning"
	"github.com/enclagent/gateway/domain/session"
	"github.com/enclagent/gateway/domain/timeline"
	"github.com/enclagent/gateway/domain/wallet"
	"github.com/enclagent/gateway/infrastructure/config"
	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
	"github.com/enclagent/gateway/infrastructure/logging"
	"github.com/enclagent/gateway/infrastructure/metrics"
)

// Server bundles the gateway's process-wide singletons and exposes them
// as HTTP handlers. It holds no ambient globals: every handler closes only
// over these explicit fields.
type Server struct {
	cfg          *config.GatewayConfig
	sessions     session.Store
	timelines    timeline.Recorder
	onboarding   onboarding.Store
	engine       *onboarding.Engine
	templates    *policy.Library
	provisioner  *provisioning.Dispatcher
	bus          *eventbus.Bus
	log          *logging.Logger
	metrics      *metrics.Gateway
	identityFlag IdentityTokenFlag

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// IdentityTokenFlag reports whether the in-flight /verify request carried a
// Privy identity token, a property of the HTTP request rather than of
// config or session state.
type IdentityTokenFlag func(r *http.Request) bool

// Deps bundles the collaborators a Server needs; every field is required
// except Provisioner, which may be nil when provisioning_backend=unconfigured,
// and Metrics (see below).
type Deps struct {
	Config      *config.GatewayConfig
	Sessions    session.Store
	Timelines   timeline.Recorder
	Onboarding  onboarding.Store
	Templates   *policy.Library
	Provisioner *provisioning.Dispatcher
	Bus         *eventbus.Bus
	// Metrics is optional; when nil, NewServer registers a fresh Gateway
	// bundle against the default Prometheus registerer.
	Metrics *metrics.Gateway
}

// NewServer wires a Server from its dependencies.
func NewServer(d Deps) *Server {
	gatewayMetrics := d.Metrics
	if gatewayMetrics == nil {
		gatewayMetrics = metrics.New()
	}
	log := logging.NewFromEnv("gatewayapi")
	if d.Bus != nil {
		d.Bus.OnDrop = func(channel string) {
			gatewayMetrics.EventBusDropped.WithLabelValues(channelPrefix(channel)).Inc()
			log.LogEventBusOverflow(context.Background(), channelPrefix(channel), 1)
		}
	}

	return &Server{
		cfg:         d.Config,
		sessions:    d.Sessions,
		timelines:   d.Timelines,
		onboarding:  d.Onboarding,
		engine:      onboarding.NewEngine(),
		templates:   d.Templates,
		provisioner: d.Provisioner,
		bus:         d.Bus,
		log:         log,
		metrics:     gatewayMetrics,
		identityFlag: func(r *http.Request) bool {
			if d.Config != nil && !d.Config.Frontdoor.RequirePrivy {
				return true
			}
			return r.Header.Get("X-Privy-Identity-Token") != ""
		},
		limiters: make(map[string]*rate.Limiter),
	}
}

// channelPrefix strips the session id suffix from a bus channel name
// ("job_events:abc123" -> "job_events") so the dropped-event metric doesn't
// grow an unbounded label cardinality, one series per session.
func channelPrefix(channel string) string {
	if idx := strings.IndexByte(channel, ':'); idx >= 0 {
		return channel[:idx]
	}
	return channel
}

// Routes builds the gateway's full HTTP route table.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.traceMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.HandleFunc("/challenge", s.handleChallenge).Methods(http.MethodPost)
	r.HandleFunc("/verify", s.handleVerify).Methods(http.MethodPost)

	r.HandleFunc("/session/{id}", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/session/{id}/timeline", s.handleTimeline).Methods(http.MethodGet)
	r.HandleFunc("/session/{id}/verification-explanation", s.handleVerificationExplanation).Methods(http.MethodGet)
	r.HandleFunc("/session/{id}/gateway-todos", s.handleGatewayTodos).Methods(http.MethodGet)
	r.HandleFunc("/session/{id}/funding-preflight", s.handleFundingPreflight).Methods(http.MethodGet)
	r.HandleFunc("/session/{id}/runtime-control", s.handleRuntimeControl).Methods(http.MethodPost)

	r.HandleFunc("/onboarding/chat", s.handleOnboardingChat).Methods(http.MethodPost)
	r.HandleFunc("/onboarding/state", s.handleOnboardingState).Methods(http.MethodGet)

	r.HandleFunc("/suggest-config", s.handleSuggestConfig).Methods(http.MethodPost)
	r.HandleFunc("/policy-templates", s.handlePolicyTemplates).Methods(http.MethodGet)
	r.HandleFunc("/experience/manifest", s.handleExperienceManifest).Methods(http.MethodGet)
	r.HandleFunc("/config-contract", s.handleConfigContract).Methods(http.MethodGet)
	r.HandleFunc("/bootstrap", s.handleBootstrap).Methods(http.MethodGet)

	r.HandleFunc("/chat/events", s.handleChatEvents).Methods(http.MethodGet)
	r.HandleFunc("/logs/events", s.handleLogEvents).Methods(http.MethodGet)
	r.HandleFunc("/jobs/events", s.handleJobEvents).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

// traceMiddleware stamps a fresh trace id into the request context so every
// log line a handler emits via WithContext carries it.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithTraceID(r.Context(), logging.NewTraceID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithContext(r.Context()).WithFields(map[string]interface{}{
					"panic": rec,
					"path":  r.URL.Path,
				}).Error("panic recovered in gatewayapi handler")
				writeError(w, gatewayerrors.Internal("unhandled panic", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Privy-Identity-Token")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies a per-client-IP token bucket, keyed per
// client IP the same way the session store keys per session, built
// directly against golang.org/x/time/rate.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := s.limiterFor(clientKey(r))
		if !limiter.Allow() {
			writeError(w, gatewayerrors.New(gatewayerrors.CodeInternal, "rate limit exceeded", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiterFor(key string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(20), 40)
		s.limiters[key] = l
	}
	return l
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func (s *Server) now() time.Time { return time.Now().UTC() }

func (s *Server) sessionTTL() time.Duration {
	if s.cfg.Session.TTLSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.cfg.Session.TTLSeconds) * time.Second
}

func (s *Server) challengeTTL() time.Duration {
	if s.cfg.Session.ChallengeTTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(s.cfg.Session.ChallengeTTLSeconds) * time.Second
}

func validateWalletAddress(addr string) error {
	if !wallet.IsValidAddress(addr) {
		return gatewayerrors.InvalidWalletAddress(addr)
	}
	return nil
}
