package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"offpay/internal/domain"
	"offpay/internal/logging"
	"offpay/internal/transport"
)

// RecordsKey is the blob key the server persists its records under.
const RecordsKey = "ledgerd_records"

const maxSubmitBytes = 64 << 10

// SubmitRequest is the body of POST /v1/transactions.
type SubmitRequest struct {
	Transaction domain.OfflineTransaction `json:"transaction"`
	Force       bool                      `json:"force,omitempty"`
}

// Server is the reference backend and relay.
type Server struct {
	jwt   *JWTService
	box   *transport.Mailbox
	store domain.BlobStore
	log   *zap.Logger
	now   func() time.Time

	mu      sync.Mutex
	records map[string]Record
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ServerOption { return func(s *Server) { s.log = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServerOption { return func(s *Server) { s.now = now } }

// WithStore persists records to bs after every change.
func WithStore(bs domain.BlobStore) ServerOption { return func(s *Server) { s.store = bs } }

// WithMailbox serves the relay API from box.
func WithMailbox(box *transport.Mailbox) ServerOption { return func(s *Server) { s.box = box } }

// NewServer returns a Server authenticating devices with jwt.
func NewServer(jwt *JWTService, opts ...ServerOption) *Server {
	s := &Server{jwt: jwt, now: time.Now, records: make(map[string]Record)}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNop(s.log).With(zap.String("component", "ledgerd"))
	return s
}

// Load reads persisted records. Without a store it does nothing.
func (s *Server) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	raw, err := s.store.GetBlob(ctx, RecordsKey)
	if err != nil {
		return fmt.Errorf("%w: load records: %w", domain.ErrPersistence, err)
	}
	if raw == nil {
		return nil
	}
	var list []Record
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("decode records: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range list {
		s.records[r.ID] = r
	}
	s.log.Info("records loaded", zap.Int("count", len(list)))
	return nil
}

func (s *Server) saveLocked(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	list := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		list = append(list, r)
	}
	slices.SortFunc(list, func(a, b Record) int { return strings.Compare(a.ID, b.ID) })
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := s.store.SetBlob(ctx, RecordsKey, raw); err != nil {
		return fmt.Errorf("%w: save records: %w", domain.ErrPersistence, err)
	}
	return nil
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.jwt))
		r.Post("/v1/transactions", s.handleSubmit)
		r.Get("/v1/transactions/{id}", s.handleGet)
	})

	if s.box != nil {
		transport.Routes(r, s.box)
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())))
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	device, _ := deviceFromContext(r.Context())
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := checkSubmission(device, req.Transaction); msg != "" {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}
	res, err := s.submit(r.Context(), device, req.Transaction, req.Force)
	if err != nil {
		s.log.Error("submit failed", zap.String("tx_id", req.Transaction.ID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "could not store transaction")
		return
	}
	if res.Conflict {
		respondJSON(w, http.StatusConflict, res)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func checkSubmission(device domain.DeviceID, tx domain.OfflineTransaction) string {
	switch {
	case tx.ID == "":
		return "transaction id is required"
	case tx.Nonce == "":
		return "nonce is required"
	case tx.Amount <= 0:
		return "amount must be positive"
	case tx.CounterpartDeviceID == "" || tx.CounterpartDeviceID == device:
		return "invalid counterpart"
	case len(tx.Signatures.Sender) == 0:
		return "sender signature is required"
	}
	return ""
}

// submit stores tx as submitted by device. A version that differs from the
// stored record is a conflict unless force is set.
func (s *Server) submit(
	ctx context.Context,
	device domain.DeviceID,
	tx domain.OfflineTransaction,
	force bool,
) (domain.SubmitResult, error) {
	in := recordFrom(device, tx)

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, exists := s.records[in.ID]
	next := in
	switch {
	case !exists:
		next.ServerID = uuid.NewString()
	case prev.sameTransfer(in):
		next = prev
		next.absorb(in)
	case !prev.involves(device):
		return domain.SubmitResult{Conflict: true}, nil
	case !force:
		view := prev.View(device)
		s.log.Info("conflicting submission", zap.String("tx_id", in.ID), zap.String("device", string(device)))
		return domain.SubmitResult{Conflict: true, ServerVersion: &view}, nil
	default:
		next.ServerID = prev.ServerID
		next.SubmittedBy = prev.SubmittedBy
		s.log.Warn("record overwritten by forced submission",
			zap.String("tx_id", in.ID), zap.String("device", string(device)))
	}
	next.SubmittedBy = slices.Clone(next.SubmittedBy)
	next.addSubmitter(device)
	next.UpdatedAt = s.now().UTC()

	s.records[next.ID] = next
	if err := s.saveLocked(ctx); err != nil {
		if exists {
			s.records[prev.ID] = prev
		} else {
			delete(s.records, next.ID)
		}
		return domain.SubmitResult{}, err
	}
	return domain.SubmitResult{Accepted: true, ServerID: next.ServerID}, nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	device, _ := deviceFromContext(r.Context())
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	rec, ok := s.records[id]
	s.mu.Unlock()
	if !ok || !rec.involves(device) {
		respondWithError(w, http.StatusNotFound, "transaction not found")
		return
	}
	respondJSON(w, http.StatusOK, rec.View(device))
}

// Record returns the stored record for id.
func (s *Server) Record(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

type contextKey string

const deviceKey contextKey = "device_id"

func deviceFromContext(ctx context.Context) (domain.DeviceID, bool) {
	d, ok := ctx.Value(deviceKey).(domain.DeviceID)
	return d, ok
}

// authMiddleware validates the bearer token and attaches the device id.
func authMiddleware(jwtService *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, "missing token")
				return
			}
			claims, err := jwtService.VerifyToken(tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), deviceKey, claims.DeviceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}
