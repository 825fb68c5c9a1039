package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"minimal-sessions/common"
	"minimal-sessions/configs"
	"minimal-sessions/crypto/pemkey"
	"minimal-sessions/session"
)

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	Negotiator *session.Negotiator
	Keys       session.KeyRegistry
	Hub        *Hub
	Auth       Authenticator
	// Redis is optional; when set it is pinged by /healthz and closed by Close.
	Redis *redis.Client
	// DevRoutes enables the unverified handshake endpoint.
	DevRoutes bool
}

type Server struct {
	negotiator  *session.Negotiator
	keys        session.KeyRegistry
	hub         *Hub
	auth        Authenticator
	redisClient *redis.Client
	devRoutes   bool
	logger      *logrus.Logger
	now         func() time.Time
}

func NewServer(deps Deps, logger *logrus.Logger) *Server {
	s := &Server{
		negotiator:  deps.Negotiator,
		keys:        deps.Keys,
		hub:         deps.Hub,
		auth:        deps.Auth,
		redisClient: deps.Redis,
		devRoutes:   deps.DevRoutes,
		logger:      logger,
		now:         time.Now,
	}
	if s.auth == nil {
		s.auth = HeaderAuthenticator{}
	}
	if s.hub == nil {
		s.hub = NewHub(logger)
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.HandleHealth).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.authMiddleware)

	sessions := api.PathPrefix(configs.SessionsPath).Subrouter()
	sessions.HandleFunc("/get-or-create", s.HandleGetOrCreate).Methods(http.MethodPost)
	sessions.HandleFunc("/cleanup", s.HandleCleanup).Methods(http.MethodPost)
	if s.devRoutes {
		sessions.HandleFunc("/dev/get-or-create-no-verify", s.HandleGetOrCreateUnverified).Methods(http.MethodPost)
	}
	sessions.HandleFunc("/{sessionID}", s.HandleGetSession).Methods(http.MethodGet)
	sessions.HandleFunc("/{sessionID}/rotate", s.HandleRotate).Methods(http.MethodPost)

	keys := api.PathPrefix(configs.KeysPath).Subrouter()
	keys.HandleFunc("", s.HandlePutKeys).Methods(http.MethodPut, http.MethodPost)
	keys.HandleFunc("/check/{userID}", s.HandleCheckKeys).Methods(http.MethodGet)
	keys.HandleFunc("/{userID}", s.HandleGetKeys).Methods(http.MethodGet)

	api.HandleFunc(configs.EventsPath, s.HandleEvents).Methods(http.MethodGet)
	return r
}

func (s *Server) Close() {
	s.hub.Close()
	if s.redisClient != nil {
		s.redisClient.Close()
	}
}

type getOrCreateRequest struct {
	OtherUserID   string `json:"otherUserId"`
	EcdhPublicKey string `json:"ecdhPublicKey"`
	EcdhSignature string `json:"ecdhSignature"`
}

type rotateRequest struct {
	NewEcdhPublicKey string `json:"newEcdhPublicKey"`
	NewEcdhSignature string `json:"newEcdhSignature"`
}

type putKeysRequest struct {
	EcdhPublicKey  string `json:"ecdhPublicKey"`
	EcdsaPublicKey string `json:"ecdsaPublicKey"`
}

func (s *Server) HandleGetOrCreate(w http.ResponseWriter, r *http.Request) {
	var req getOrCreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.negotiator.GetOrCreate(r.Context(), CallerID(r.Context()), req.OtherUserID, req.EcdhPublicKey, req.EcdhSignature)
	s.respond(w, r, view, err)
}

func (s *Server) HandleGetOrCreateUnverified(w http.ResponseWriter, r *http.Request) {
	var req getOrCreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.WithField("user_id", CallerID(r.Context())).Warn("Unverified handshake requested")
	view, err := s.negotiator.GetOrCreateUnverified(r.Context(), CallerID(r.Context()), req.OtherUserID, req.EcdhPublicKey, req.EcdhSignature)
	s.respond(w, r, view, err)
}

func (s *Server) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.negotiator.GetByID(r.Context(), CallerID(r.Context()), mux.Vars(r)["sessionID"])
	s.respond(w, r, view, err)
}

func (s *Server) HandleRotate(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.negotiator.Rotate(r.Context(), CallerID(r.Context()), mux.Vars(r)["sessionID"], req.NewEcdhPublicKey, req.NewEcdhSignature)
	s.respond(w, r, view, err)
}

func (s *Server) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := s.negotiator.CleanupExpired(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deletedCount": removed})
}

func (s *Server) HandlePutKeys(w http.ResponseWriter, r *http.Request) {
	userID := CallerID(r.Context())

	var req putKeysRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.EcdhPublicKey == "" || req.EcdsaPublicKey == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "ecdhPublicKey and ecdsaPublicKey are required")
		return
	}
	if _, err := pemkey.ParseSigningKey(req.EcdsaPublicKey); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Rejected signing key")
		writeError(w, http.StatusBadRequest, "VALIDATION", "ecdsaPublicKey is not a supported public key")
		return
	}

	identity, err := s.keys.PutKeys(r.Context(), userID, req.EcdhPublicKey, req.EcdsaPublicKey, s.now().UTC())
	if err != nil {
		s.logger.Errorf("Error publishing keys for user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}

	s.logger.Infof("Public keys published for user %s", userID)
	writeJSON(w, http.StatusOK, struct {
		Message string          `json:"message"`
		User    common.Identity `json:"user"`
	}{"Keys updated successfully", identity})
}

func (s *Server) HandleGetKeys(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	identity, ok := s.lookupIdentity(w, r, userID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (s *Server) HandleCheckKeys(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	identity, ok := s.lookupIdentity(w, r, userID)
	if !ok {
		return
	}
	hasKeys := identity.ExchangeKey != "" && identity.SigningKey != ""
	writeJSON(w, http.StatusOK, map[string]bool{"hasKeys": hasKeys})
}

func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, CallerID(r.Context()))
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if s.redisClient != nil {
		if err := s.redisClient.Ping(r.Context()).Err(); err != nil {
			s.logger.WithError(err).Error("Redis health check failed")
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "redis unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) lookupIdentity(w http.ResponseWriter, r *http.Request, userID string) (*common.Identity, bool) {
	identity, err := s.keys.Identity(r.Context(), userID)
	if err != nil {
		s.logger.Errorf("Error retrieving keys for user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return nil, false
	}
	if identity == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
		return nil, false
	}
	return identity, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := readJSON(r, dst); err != nil {
		s.logger.WithError(err).WithField("path", r.URL.Path).Warn("Invalid request body")
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, view common.SessionView, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	entry := s.logger.WithError(err).WithFields(logrus.Fields{
		"path":    r.URL.Path,
		"user_id": CallerID(r.Context()),
		"code":    session.Code(err),
	})
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Session request failed")
	} else {
		entry.Info("Session request rejected")
	}
	writeError(w, status, session.Code(err), messageFor(err))
}
