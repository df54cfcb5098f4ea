// Package controller serves the local UI API: proposal listing, favourites,
// connection control, settings, a websocket event stream and metrics.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vpnconnect/internal/api"
	"vpnconnect/internal/model"
	"vpnconnect/internal/notify"
)

// Connections is the connection orchestrator as seen by the API.
type Connections interface {
	ConnectTo(ctx context.Context, p model.Proposal) error
	StopConnecting(ctx context.Context) error
	Disconnect(ctx context.Context) error
	DisconnectFromPush(ctx context.Context) error
	State() model.ConnectionState
	Statistic() model.ConnectionStatistic
	Proposal() (model.Proposal, bool)
	Identity() fn.Option[model.Identity]
	Balance(ctx context.Context, address string) (float64, error)
	Subscribe() (*notify.Client, error)
}

// Proposals is the proposal and favourites use-case.
type Proposals interface {
	AllProposals(ctx context.Context) ([]model.Proposal, error)
	Cached() ([]model.Proposal, time.Time)
	FilterCached(f model.Filter, country string) []model.Proposal
	Lookup(providerID, serviceType string) (model.Proposal, bool)
	Favourites(available []model.Proposal) ([]model.Proposal, error)
	AddToFavourite(p model.Proposal) error
	DeleteFromFavourite(p model.Proposal) error
	IsFavourite(id string) (model.FavouriteEntry, bool, error)
}

// Settings persists user settings.
type Settings interface {
	SavedDNS() (string, bool, error)
	SaveDNS(value string) error
}

// Config wires the server. Gatherer defaults to the Prometheus default registry.
type Config struct {
	Listen      string
	Connections Connections
	Proposals   Proposals
	Settings    Settings
	Gatherer    prometheus.Gatherer
	DefaultDNS  string
}

// Server provides the controller HTTP API.
type Server struct {
	cfg    Config
	router chi.Router

	// base outlives requests; connect attempts run on it.
	base   context.Context
	cancel context.CancelFunc
}

// New builds the router.
func New(cfg Config) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.DefaultDNS == "" {
		cfg.DefaultDNS = "auto"
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Server{cfg: cfg, base: base, cancel: cancel}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/proposals", s.handleProposals)
	r.Route("/favourites", func(r chi.Router) {
		r.Get("/", s.handleListFavourites)
		r.Post("/", s.handleAddFavourite)
		r.Get("/{key}", s.handleGetFavourite)
		r.Delete("/{key}", s.handleDeleteFavourite)
	})
	r.Route("/connection", func(r chi.Router) {
		r.Get("/", s.handleConnection)
		r.Post("/", s.handleConnect)
		r.Delete("/", s.handleDisconnect)
		r.Post("/stop", s.handleStopConnecting)
		r.Post("/push-disconnect", s.handlePushDisconnect)
	})
	r.Get("/balance", s.handleBalance)
	r.Get("/settings/dns", s.handleGetDNS)
	r.Put("/settings/dns", s.handlePutDNS)
	r.Get("/events", s.handleEvents)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the HTTP server until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("controller listening on %s", s.cfg.Listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
	}

	s.cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close cancels connect attempts started through the API.
func (s *Server) Close() {
	s.cancel()
}

func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := parseFilter(q.Get("type"), q.Get("price"), q.Get("quality"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	refresh, _ := strconv.ParseBool(q.Get("refresh"))
	if _, loadedAt := s.cfg.Proposals.Cached(); refresh || loadedAt.IsZero() {
		if _, err := s.cfg.Proposals.AllProposals(r.Context()); err != nil {
			writeJSONError(w, http.StatusBadGateway, err.Error())
			return
		}
	}

	_, loadedAt := s.cfg.Proposals.Cached()
	proposals := s.cfg.Proposals.FilterCached(filter, q.Get("country"))
	if proposals == nil {
		proposals = []model.Proposal{}
	}
	writeJSON(w, http.StatusOK, api.ProposalsView{Proposals: proposals, LoadedAt: loadedAt})
}

func parseFilter(nodeType, price, quality string) (model.Filter, error) {
	f := model.NoFilter()
	var err error
	if nodeType != "" {
		if f.Type, err = model.ParseNodeType(nodeType); err != nil {
			return f, err
		}
	}
	if price != "" {
		if f.Price, err = model.ParsePriceLevel(price); err != nil {
			return f, err
		}
	}
	if quality != "" {
		if f.Quality, err = model.ParseQualityLevel(quality); err != nil {
			return f, err
		}
	}
	return f, nil
}

func (s *Server) handleListFavourites(w http.ResponseWriter, r *http.Request) {
	available, _ := s.cfg.Proposals.Cached()
	favourites, err := s.cfg.Proposals.Favourites(available)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if favourites == nil {
		favourites = []model.Proposal{}
	}
	writeJSON(w, http.StatusOK, api.FavouritesView{Favourites: favourites})
}

func (s *Server) handleAddFavourite(w http.ResponseWriter, r *http.Request) {
	var ref api.ProposalRef
	if err := decodeJSON(r, &ref); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, ok := s.lookup(ref)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "proposal not found")
		return
	}
	if err := s.cfg.Proposals.AddToFavourite(p); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetFavourite(w http.ResponseWriter, r *http.Request) {
	entry, ok, err := s.cfg.Proposals.IsFavourite(chi.URLParam(r, "key"))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "favourite not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteFavourite(w http.ResponseWriter, r *http.Request) {
	entry, ok, err := s.cfg.Proposals.IsFavourite(chi.URLParam(r, "key"))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "favourite not found")
		return
	}
	if err := s.cfg.Proposals.DeleteFromFavourite(model.NewProposal(entry.NodeRecord)); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	conns := s.cfg.Connections
	view := api.ConnectionView{
		State:     conns.State(),
		Statistic: conns.Statistic(),
	}
	if p, ok := conns.Proposal(); ok {
		view.Proposal = &p
	}
	conns.Identity().WhenSome(func(id model.Identity) {
		view.Identity = &id
	})
	writeJSON(w, http.StatusOK, view)
}

// handleConnect starts the attempt and returns; the outcome arrives on /events.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var ref api.ProposalRef
	if err := decodeJSON(r, &ref); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, ok := s.lookup(ref)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "proposal not found")
		return
	}

	go func() {
		if err := s.cfg.Connections.ConnectTo(s.base, p); err != nil {
			log.Printf("api connect provider=%s failed: %v", p.ProviderID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, p)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.runTransition(w, r, s.cfg.Connections.Disconnect)
}

func (s *Server) handleStopConnecting(w http.ResponseWriter, r *http.Request) {
	s.runTransition(w, r, s.cfg.Connections.StopConnecting)
}

func (s *Server) handlePushDisconnect(w http.ResponseWriter, r *http.Request) {
	s.runTransition(w, r, s.cfg.Connections.DisconnectFromPush)
}

func (s *Server) runTransition(w http.ResponseWriter, r *http.Request, op func(context.Context) error) {
	if err := op(r.Context()); err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	s.cfg.Connections.Identity().WhenSome(func(id model.Identity) {
		address = id.Address
	})
	balance, err := s.cfg.Connections.Balance(r.Context(), address)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.BalanceView{Address: address, Balance: balance})
}

func (s *Server) handleGetDNS(w http.ResponseWriter, r *http.Request) {
	dns, ok, err := s.cfg.Settings.SavedDNS()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		dns = s.cfg.DefaultDNS
	}
	writeJSON(w, http.StatusOK, api.DNSSetting{DNS: dns})
}

func (s *Server) handlePutDNS(w http.ResponseWriter, r *http.Request) {
	var req api.DNSSetting
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cfg.Settings.SaveDNS(strings.TrimSpace(req.DNS)); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookup(ref api.ProposalRef) (model.Proposal, bool) {
	if ref.ProviderID == "" {
		return model.Proposal{}, false
	}
	return s.cfg.Proposals.Lookup(ref.ProviderID, ref.ServiceType)
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
