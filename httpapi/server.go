package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"raffler/domain/entities"
	"raffler/infrastructure/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// RaffleAPI is the application surface served over HTTP
type RaffleAPI interface {
	ListRaffles(ctx context.Context) ([]*entities.Raffle, error)
	GetRaffle(ctx context.Context, raffleID int64) (*entities.Raffle, error)
	GetPlayer(ctx context.Context, raffleID, index int64) (common.Address, error)
	ListPlayers(ctx context.Context, raffleID int64) ([]common.Address, error)
	ListWinners(ctx context.Context, raffleID int64, limit int) ([]*entities.RaffleWinner, error)
	CheckUpkeep(ctx context.Context, raffleID int64) (entities.UpkeepCheck, error)
	PerformUpkeep(ctx context.Context, raffleID int64) (int64, error)
	Enter(ctx context.Context, raffleID int64, player common.Address, payment *big.Int) (*entities.RaffleEntry, error)
	GetAccount(ctx context.Context, address common.Address) (*entities.Account, error)
}

// Config holds HTTP server settings
type Config struct {
	Addr              string
	RequestsPerSecond float64
	Burst             int
	// Dependencies are reported by /healthz. A down dependency degrades the
	// status but keeps the endpoint at 200.
	Dependencies map[string]func() bool
}

// Server serves the raffle HTTP API
type Server struct {
	api     RaffleAPI
	router  chi.Router
	limiter *RateLimiter
	cfg     Config
}

// NewServer creates a new server and registers its routes
func NewServer(api RaffleAPI, cfg Config) *Server {
	s := &Server{
		api:     api,
		limiter: NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		cfg:     cfg,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.InstrumentHandler)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", observability.Handler())

	r.Route("/raffles", func(r chi.Router) {
		r.Get("/", s.handleListRaffles)
		r.Route("/{raffleID}", func(r chi.Router) {
			r.Get("/", s.handleGetRaffle)
			r.Get("/players", s.handleListPlayers)
			r.Get("/players/{index}", s.handleGetPlayer)
			r.Get("/winners", s.handleListWinners)
			r.Get("/upkeep", s.handleCheckUpkeep)
			r.With(s.limiter.Handler).Post("/upkeep", s.handlePerformUpkeep)
			r.With(s.limiter.Handler).Post("/entries", s.handleEnter)
		})
	})
	r.Get("/accounts/{address}", s.handleGetAccount)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.cfg.Addr).Info("HTTP API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve HTTP API: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP API: %w", err)
	}
	log.Info("HTTP API stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if len(s.cfg.Dependencies) > 0 {
		resp.Dependencies = make(map[string]string, len(s.cfg.Dependencies))
	}
	for name, up := range s.cfg.Dependencies {
		if up() {
			resp.Dependencies[name] = "up"
			continue
		}
		resp.Dependencies[name] = "down"
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRaffles(w http.ResponseWriter, r *http.Request) {
	raffles, err := s.api.ListRaffles(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := make([]raffleResponse, 0, len(raffles))
	for _, raffle := range raffles {
		resp = append(resp, newRaffleResponse(raffle))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRaffle(w http.ResponseWriter, r *http.Request) {
	raffleID, ok := pathInt(w, r, "raffleID")
	if !ok {
		return
	}
	raffle, err := s.api.GetRaffle(r.Context(), raffleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRaffleResponse(raffle))
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	raffleID, ok := pathInt(w, r, "raffleID")
	if !ok {
		return
	}
	index, ok := pathInt(w, r, "index")
	if !ok {
		return
	}
	player, err := s.api.GetPlayer(r.Context(), raffleID, index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playerResponse{Index: index, Player: player.Hex()})
}

func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	raffleID, ok := pathInt(w, r, "raffleID")
	if !ok {
		return
	}
	players, err := s.api.ListPlayers(r.Context(), raffleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := playersResponse{Players: make([]string, 0, len(players))}
	for _, player := range players {
		resp.Players = append(resp.Players, player.Hex())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListWinners(w http.ResponseWriter, r *http.Request) {
	raffleID, ok := pathInt(w, r, "raffleID")
	if !ok {
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	winners, err := s.api.ListWinners(r.Context(), raffleID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := make([]winnerResponse, 0, len(winners))
	for _, winner := range winners {
		resp = append(resp, newWinnerResponse(winner))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckUpkeep(w http.ResponseWriter, r *http.Request) {
	raffleID, ok := pathInt(w, r, "raffleID")
	if !ok {
		return
	}
	check, err := s.api.CheckUpkeep(r.Context(), raffleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, upkeepResponse{
		UpkeepNeeded: check.UpkeepNeeded,
		PerformData:  "0x",
		IsOpen:       check.IsOpen,
		TimePassed:   check.TimePassed,
		HasBalance:   check.HasBalance,
		HasPlayers:   check.HasPlayers,
	})
}

func (s *Server) handlePerformUpkeep(w http.ResponseWriter, r *http.Request) {
	raffleID, ok := pathInt(w, r, "raffleID")
	if !ok {
		return
	}
	requestID, err := s.api.PerformUpkeep(r.Context(), raffleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, performUpkeepResponse{RequestID: requestID})
}

func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	raffleID, ok := pathInt(w, r, "raffleID")
	if !ok {
		return
	}

	var req enterRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if !common.IsHexAddress(req.Player) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid player address %q", req.Player))
		return
	}
	if req.Payment == nil {
		writeError(w, http.StatusBadRequest, errors.New("payment is required"))
		return
	}

	entry, err := s.api.Enter(r.Context(), raffleID, common.HexToAddress(req.Player), req.Payment)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entryResponse{
		RaffleID: entry.RaffleID,
		Round:    entry.RoundNumber,
		Position: entry.Position,
		Player:   entry.Player.Hex(),
		Payment:  entry.Payment,
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address %q", raw))
		return
	}
	account, err := s.api.GetAccount(r.Context(), common.HexToAddress(raw))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Address: account.Address.Hex(),
		Balance: account.Balance,
		Frozen:  account.Frozen,
	})
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s %q", name, raw))
		return 0, false
	}
	return v, true
}

// writeDomainError maps service errors onto status codes
func writeDomainError(w http.ResponseWriter, err error) {
	var notNeeded *entities.UpkeepNotNeededError
	switch {
	case errors.As(err, &notNeeded):
		writeJSON(w, http.StatusConflict, upkeepNotNeededResponse{
			Error:      err.Error(),
			Balance:    notNeeded.Balance,
			NumPlayers: notNeeded.NumPlayers,
			State:      int(notNeeded.State),
		})
	case errors.Is(err, entities.ErrNotEnoughEthEntered),
		errors.Is(err, entities.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, entities.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, entities.ErrRaffleNotFound),
		errors.Is(err, entities.ErrPlayerIndexOutOfRange):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, entities.ErrNotOpen):
		writeError(w, http.StatusConflict, err)
	default:
		log.WithError(err).Error("Unhandled API error")
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
