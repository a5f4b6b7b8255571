// Package api exposes the read-only statistics endpoints. Authorization is an
// external concern: the entity resolver hands the handlers an already
// authorized organization set, and a refusal surfaces as 403 while an
// authorized but empty window surfaces as an empty 200.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"killboard/internal/logging"
	"killboard/internal/roster"
	"killboard/internal/stats"
	"killboard/internal/storage"
)

// ErrForbidden is returned by an EntityResolver when the request identity may
// not see the requested organization.
var ErrForbidden = errors.New("organization not visible to requester")

// EntityResolver maps a requested organization to the set of organization IDs
// the request is authorized to read. orgID 0 means "everything the requester
// may see".
type EntityResolver func(r *http.Request, orgType storage.OrgType, orgID int64) ([]int64, error)

// RosterBuilder builds the main-to-alts mapping for an organization set.
type RosterBuilder interface {
	Build(ctx context.Context, orgIDs []int64) (roster.Roster, error)
}

// WindowReader loads the stored killmail window for a year.
type WindowReader interface {
	Window(ctx context.Context, entityIDs []int64, year int) ([]storage.StoredKillmail, error)
}

// JobPublisher enqueues work for the ingestion worker.
type JobPublisher interface {
	Publish(ctx context.Context, queueName string, job any) error
}

// Server wires the statistics endpoints.
type Server struct {
	reader   WindowReader
	rosters  RosterBuilder
	engine   *stats.Engine
	resolver EntityResolver
	cache    *ResponseCache
	orgs     *storage.TrackedOrgStore
	log      logging.Interface

	backfill      JobPublisher
	backfillQueue string
}

// NewServer builds the API server. cache may be nil to disable response
// caching.
func NewServer(reader WindowReader, rosters RosterBuilder, engine *stats.Engine, resolver EntityResolver, cache *ResponseCache, orgs *storage.TrackedOrgStore) *Server {
	return &Server{
		reader:   reader,
		rosters:  rosters,
		engine:   engine,
		resolver: resolver,
		cache:    cache,
		orgs:     orgs,
		log:      logging.Component("api"),
	}
}

// EnableBackfill exposes the backfill-request endpoint, publishing to the
// given queue.
func (s *Server) EnableBackfill(publisher JobPublisher, queueName string) {
	s.backfill = publisher
	s.backfillQueue = queueName
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/killboard/api", func(r chi.Router) {
		r.Route("/stats", func(r chi.Router) {
			pattern := "/month/{month}/year/{year}/{orgType}/{orgID}"
			r.Get("/top_killer"+pattern, s.statHandler(func(e *stats.Engine, d *stats.Dataset) any { return e.TopKiller(d) }))
			r.Get("/alltime_killer"+pattern, s.statHandler(func(e *stats.Engine, d *stats.Dataset) any { return e.AlltimeKiller(d) }))
			r.Get("/top_victim"+pattern, s.statHandler(func(e *stats.Engine, d *stats.Dataset) any { return e.TopVictim(d) }))
			r.Get("/alltime_victim"+pattern, s.statHandler(func(e *stats.Engine, d *stats.Dataset) any { return e.AlltimeVictim(d) }))
			r.Get("/top_ship"+pattern, s.statHandler(func(e *stats.Engine, d *stats.Dataset) any { return e.TopShip(d) }))
			r.Get("/worst_ship"+pattern, s.statHandler(func(e *stats.Engine, d *stats.Dataset) any { return e.WorstShip(d) }))
			r.Get("/highest_kill"+pattern, s.statHandler(func(e *stats.Engine, d *stats.Dataset) any { return e.HighestKill(d) }))
			r.Get("/highest_loss"+pattern, s.statHandler(func(e *stats.Engine, d *stats.Dataset) any { return e.HighestLoss(d) }))
			r.Get("/top10"+pattern, s.statHandler(func(e *stats.Engine, d *stats.Dataset) any { return e.Top10(d) }))
			r.Get("/halls"+pattern, s.statHandler(func(e *stats.Engine, d *stats.Dataset) any {
				return map[string]any{
					"fame":  e.HallOfFame(d),
					"shame": e.HallOfShame(d),
				}
			}))
			r.Get("/dashboard"+pattern, s.handleDashboard)
		})
		r.Get("/killmails/{side}/month/{month}/year/{year}/{orgType}/{orgID}", s.handleKillmailList)
		r.Post("/tracked/{orgType}/{orgID}", s.handleRegister)
		r.Delete("/tracked/{orgType}/{orgID}", s.handleUnregister)
		if s.backfill != nil {
			r.Post("/backfill/{killmailID}", s.handleBackfill)
		}
	})

	return r
}

type windowParams struct {
	Month   int
	Year    int
	OrgType storage.OrgType
	OrgID   int64
}

func parseWindowParams(r *http.Request) (windowParams, error) {
	var p windowParams
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 0 || month > 12 {
		return p, errors.New("bad month")
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 2003 {
		return p, errors.New("bad year")
	}
	orgType := storage.OrgType(chi.URLParam(r, "orgType"))
	if !orgType.Valid() {
		return p, errors.New("bad organization type")
	}
	orgID, err := strconv.ParseInt(chi.URLParam(r, "orgID"), 10, 64)
	if err != nil || orgID < 0 {
		return p, errors.New("bad organization id")
	}
	p.Month, p.Year, p.OrgType, p.OrgID = month, year, orgType, orgID
	return p, nil
}

// loadDataset resolves authorization, loads the window, and builds the
// roster.
func (s *Server) loadDataset(r *http.Request, p windowParams) (*stats.Dataset, error) {
	ctx := r.Context()
	orgIDs, err := s.resolver(r, p.OrgType, p.OrgID)
	if err != nil {
		return nil, err
	}
	events, err := s.reader.Window(ctx, orgIDs, p.Year)
	if err != nil {
		return nil, err
	}
	ros, err := s.rosters.Build(ctx, orgIDs)
	if err != nil {
		return nil, err
	}
	return stats.NewDataset(events, &ros, orgIDs, p.Month), nil
}

func (s *Server) statHandler(compute func(*stats.Engine, *stats.Dataset) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := parseWindowParams(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// orgID 0 resolves per requester, so those responses never share a
		// cache entry.
		cacheable := p.OrgID != 0
		if cacheable && s.serveCached(w, r) {
			return
		}
		d, err := s.loadDataset(r, p)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, r, compute(s.engine, d), cacheable)
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	p, err := parseWindowParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cacheable := p.OrgID != 0
	if cacheable && s.serveCached(w, r) {
		return
	}
	d, err := s.loadDataset(r, p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	bundle, err := s.engine.BuildDashboard(r.Context(), d)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, r, bundle, cacheable)
}

// handleRegister opts an organization into tracking. The owner character is
// taken from a header set by the fronting auth layer.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	orgType := storage.OrgType(chi.URLParam(r, "orgType"))
	if !orgType.Valid() {
		http.Error(w, "bad organization type", http.StatusBadRequest)
		return
	}
	orgID, err := strconv.ParseInt(chi.URLParam(r, "orgID"), 10, 64)
	if err != nil || orgID <= 0 {
		http.Error(w, "bad organization id", http.StatusBadRequest)
		return
	}
	owner, err := strconv.ParseInt(r.Header.Get("X-Character-ID"), 10, 64)
	if err != nil || owner <= 0 {
		http.Error(w, "missing owner character", http.StatusBadRequest)
		return
	}
	if err := s.orgs.Register(r.Context(), orgType, orgID, owner); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// killmailPage is one page of the board list views.
type killmailPage struct {
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
	Total int               `json:"total"`
	Items []stats.EventStat `json:"items"`
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// handleKillmailList serves the paged kill and loss lists backing the board
// views. Sort defaults to date descending; ?sort=value ranks by total value.
func (s *Server) handleKillmailList(w http.ResponseWriter, r *http.Request) {
	p, err := parseWindowParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	side := chi.URLParam(r, "side")
	if side != "kills" && side != "losses" {
		http.Error(w, "bad list side", http.StatusBadRequest)
		return
	}
	order := r.URL.Query().Get("sort")
	if order == "" {
		order = stats.SortByDate
	}
	if order != stats.SortByDate && order != stats.SortByValue {
		http.Error(w, "bad sort order", http.StatusBadRequest)
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", defaultPageLimit)
	if page < 1 || limit < 1 || limit > maxPageLimit {
		http.Error(w, "bad page window", http.StatusBadRequest)
		return
	}

	cacheable := p.OrgID != 0
	if cacheable && s.serveCached(w, r) {
		return
	}
	d, err := s.loadDataset(r, p)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rows := s.engine.Killmails(d, side == "losses", order)
	out := killmailPage{Page: page, Limit: limit, Total: len(rows), Items: []stats.EventStat{}}
	start := (page - 1) * limit
	if start < len(rows) {
		end := start + limit
		if end > len(rows) {
			end = len(rows)
		}
		out.Items = rows[start:end]
	}
	s.writeJSON(w, r, out, cacheable)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// handleUnregister drops an organization from tracking. Stored killmails are
// kept; only the audit row goes away.
func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	orgType := storage.OrgType(chi.URLParam(r, "orgType"))
	if !orgType.Valid() {
		http.Error(w, "bad organization type", http.StatusBadRequest)
		return
	}
	orgID, err := strconv.ParseInt(chi.URLParam(r, "orgID"), 10, 64)
	if err != nil || orgID <= 0 {
		http.Error(w, "bad organization id", http.StatusBadRequest)
		return
	}
	if err := s.orgs.Remove(r.Context(), orgType, orgID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBackfill enqueues a single-killmail fetch for the worker.
func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "killmailID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "bad killmail id", http.StatusBadRequest)
		return
	}
	job := map[string]int64{"killmail_id": id}
	if err := s.backfill.Publish(r.Context(), s.backfillQueue, job); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrForbidden) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var importErr *roster.ImportError
	if errors.As(err, &importErr) {
		s.log.Errorf("roster import failed: %v", err)
		http.Error(w, "roster provider unavailable", http.StatusBadGateway)
		return
	}
	s.log.Errorf("request failed: %v", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any, cacheable bool) {
	body, err := json.Marshal(v)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if cacheable && s.cache != nil {
		s.cache.Put(r.Context(), r.URL.RequestURI(), body)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) serveCached(w http.ResponseWriter, r *http.Request) bool {
	if s.cache == nil {
		return false
	}
	body, ok := s.cache.Get(r.Context(), r.URL.RequestURI())
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "hit")
	_, _ = w.Write(body)
	return true
}

// ListenAndServe runs the HTTP server until the context ends, then shuts it
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
