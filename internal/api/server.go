package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/TetsujinOni/go-tartuffe/internal/api/handlers"
	"github.com/TetsujinOni/go-tartuffe/internal/core/pipeline"
	"github.com/TetsujinOni/go-tartuffe/internal/imposter"
	"github.com/TetsujinOni/go-tartuffe/internal/logging"
	"github.com/TetsujinOni/go-tartuffe/internal/models"
	"github.com/TetsujinOni/go-tartuffe/internal/repository"
	"github.com/TetsujinOni/go-tartuffe/internal/response"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the main API server
type Server struct {
	httpServer      *http.Server
	repo            repository.Repository
	imposterManager *imposter.Manager
	startTime       time.Time

	// pipeline is nil unless -rules was given at startup (§6
	// "POST /admin/reload"); ReloadRules rebuilds it from a fresh config.
	pipeline   *pipeline.Pipeline
	reloadFunc func() (*pipeline.Snapshot, error)

	configHandler *handlers.Config

	// workers >1 switches Start into SO_REUSEPORT multi-listener mode (rift's
	// listen.workers setting); 0 or 1 keeps the single net/http listener.
	workers int
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port                int
	Host                string
	AllowInjection      bool
	LocalOnly           bool
	Debug               bool
	IPWhitelist         string
	Origin              string
	APIKey              string
	DataDir             string // If set, use filesystem-backed repository
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	imposterMgr := imposter.NewManager()
	startTime := time.Now()

	// Initialize repository based on configuration
	var repo repository.Repository
	var err error

	if cfg.DataDir != "" {
		repo, err = repository.NewFilesystem(cfg.DataDir)
		if err != nil {
			fatalf("failed to create filesystem repository: %v", err)
		}
		logging.Info("using filesystem repository", "dataDir", cfg.DataDir)
	} else {
		// Default: in-memory repository
		repo = repository.NewInMemory()
	}

	// Create handlers
	impostersHandler := handlers.NewImpostersHandler(repo, imposterMgr, cfg.Port)
	imposterHandler := handlers.NewImposterHandler(repo, imposterMgr)
	stubsHandler := handlers.NewStubsHandler(repo)
	configHandler := handlers.NewConfigHandler(cfg.Port, cfg.Host, cfg.AllowInjection, cfg.LocalOnly, cfg.Debug, cfg.IPWhitelist, cfg.Origin, startTime.Unix())
	logsHandler := handlers.NewLogsHandler()

	// Create router
	router := NewRouter()

	// Register routes
	// Home
	router.GET("/", handlers.Home)

	// Imposters collection
	router.GET("/imposters", impostersHandler.GetImposters)
	router.POST("/imposters", impostersHandler.CreateImposter)
	router.DELETE("/imposters", impostersHandler.DeleteImposters)
	router.PUT("/imposters", impostersHandler.ReplaceImposters)

	// Individual imposter
	router.GET("/imposters/{id}", imposterHandler.GetImposter)
	router.DELETE("/imposters/{id}", imposterHandler.DeleteImposter)

	// Imposter requests/proxies
	router.DELETE("/imposters/{id}/savedRequests", imposterHandler.ResetRequests)
	router.DELETE("/imposters/{id}/savedProxyResponses", imposterHandler.ResetRequests) // Same handler

	// Stubs
	router.PUT("/imposters/{id}/stubs", stubsHandler.ReplaceStubs)
	router.POST("/imposters/{id}/stubs", stubsHandler.AddStub)
	router.PUT("/imposters/{id}/stubs/{stubIndex}", stubsHandler.ReplaceStub)
	router.DELETE("/imposters/{id}/stubs/{stubIndex}", stubsHandler.DeleteStub)

	// Config and logs
	router.GET("/config", configHandler.GetConfig)
	router.GET("/logs", logsHandler.GetLogs)

	// Prometheus metrics endpoint
	router.GET("/metrics", promhttp.Handler().ServeHTTP)

	srv := &Server{
		repo:            repo,
		imposterManager: imposterMgr,
		startTime:       startTime,
		configHandler:   configHandler,
	}

	// Liveness probe and rule-engine reload: added on top of the imposter-mode
	// admin surface above to support proxy/fault-injection mode.
	router.GET("/health", srv.handleHealth)
	router.POST("/admin/reload", srv.handleReload)

	// Apply middleware chain
	handler := Logger(
		CORSWithOrigin(cfg.Origin)(
			APIKeyAuth(cfg.APIKey)(
				IPWhitelist(cfg.IPWhitelist)(
					LocalOnly(cfg.LocalOnly)(
						JSONBody(router))))))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	srv.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return srv
}

// SetReloader registers the function ReloadRules uses to rebuild a
// pipeline.Snapshot from the on-disk rift rule config (wired by
// cmd/tartuffe/main.go when -rules is given).
func (s *Server) SetReloader(p *pipeline.Pipeline, reload func() (*pipeline.Snapshot, error)) {
	s.pipeline = p
	s.reloadFunc = reload
}

// SetRiftConfigInfo attaches a sanitized summary of the loaded rift rule
// config so GET /config reports it (wired by cmd/tartuffe/main.go when
// -rules is given).
func (s *Server) SetRiftConfigInfo(info handlers.RiftInfo) {
	s.configHandler.SetRiftInfo(&info)
}

// SetWorkers enables SO_REUSEPORT multi-listener mode: Start opens n
// independent listeners on the same address instead of one, letting the
// kernel spread accepted connections across them (rift's listen.workers
// setting, §5). n<=1 leaves Start on the single-listener path.
func (s *Server) SetWorkers(n int) {
	s.workers = n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil || s.reloadFunc == nil {
		response.WriteError(w, http.StatusBadRequest, response.ErrCodeBadData, "rule engine not configured (start with -rules)")
		return
	}
	snap, err := s.reloadFunc()
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, response.ErrCodeBadData, fmt.Sprintf("reload failed: %v", err))
		return
	}
	s.pipeline.Reload(snap)
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func fatalf(format string, args ...interface{}) {
	logging.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// Start starts the server. With workers>1 it opens that many SO_REUSEPORT
// listeners on the same address (§5) instead of one; the first
// listener error from any worker is returned and the rest are left running
// until Shutdown, matching net/http.Server's own single-listener contract
// as closely as a multi-listener fan-out can.
func (s *Server) Start() error {
	logging.Info("mountebank (go-tartuffe) running", "addr", s.httpServer.Addr, "workers", s.workers)
	if s.workers <= 1 {
		return s.httpServer.ListenAndServe()
	}

	listeners, err := listenReuseport(context.Background(), s.httpServer.Addr, s.workers)
	if err != nil {
		logging.Warn("SO_REUSEPORT unavailable, falling back to single listener", "error", err)
		return s.httpServer.ListenAndServe()
	}

	errCh := make(chan error, len(listeners))
	for _, ln := range listeners {
		go func(ln net.Listener) {
			errCh <- s.httpServer.Serve(ln)
		}(ln)
	}
	return <-errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Stop all imposter servers first
	if s.imposterManager != nil {
		s.imposterManager.StopAll()
	}

	return s.httpServer.Shutdown(ctx)
}

// GetRepository returns the repository (for testing)
func (s *Server) GetRepository() repository.Repository {
	return s.repo
}

// GetImposterManager returns the imposter manager (for testing)
func (s *Server) GetImposterManager() *imposter.Manager {
	return s.imposterManager
}

// LoadImposters loads imposters from a configuration
func (s *Server) LoadImposters(imposters []models.Imposter) error {
	for i := range imposters {
		imp := &imposters[i]

		// Initialize stubs if nil
		if imp.Stubs == nil {
			imp.Stubs = []models.Stub{}
		}

		// Add to repository
		if err := s.repo.Add(imp); err != nil {
			return fmt.Errorf("failed to add imposter on port %d: %w", imp.Port, err)
		}

		// Start imposter server for HTTP protocol
		if imp.Protocol == "http" && s.imposterManager != nil {
			if err := s.imposterManager.Start(imp); err != nil {
				// Remove from repository if failed to start
				s.repo.Delete(imp.Port)
				return fmt.Errorf("failed to start imposter on port %d: %w", imp.Port, err)
			}
		}
	}
	return nil
}

// SaveImposters returns all imposters for saving
func (s *Server) SaveImposters() ([]*models.Imposter, error) {
	return s.repo.All()
}

// LoadPersistedImposters loads imposters from the filesystem repository
// This is called at startup when using --datadir
func (s *Server) LoadPersistedImposters() error {
	// Check if this is a filesystem repository
	fsRepo, ok := s.repo.(*repository.FilesystemRepository)
	if !ok {
		return nil // Not a filesystem repository, nothing to load
	}

	imposters, err := fsRepo.LoadAll()
	if err != nil {
		return fmt.Errorf("failed to load persisted imposters: %w", err)
	}

	// Start imposter servers for loaded imposters
	for _, imp := range imposters {
		if imp.Protocol == "http" && s.imposterManager != nil {
			if err := s.imposterManager.Start(imp); err != nil {
				logging.Warn("failed to start persisted imposter", "port", imp.Port, "error", err)
			} else {
				logging.Info("restored imposter", "name", imp.Name, "port", imp.Port)
			}
		}
	}

	return nil
}
