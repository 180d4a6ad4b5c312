package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/plantguard/edge/internal/config"
	"github.com/plantguard/edge/internal/logger"
	"github.com/plantguard/edge/internal/service"
)

// DefaultCheckTimeout bounds a single checker.
const DefaultCheckTimeout = 5 * time.Second

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check
type Check struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Report represents the overall health report
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]Check       `json:"checks"`
	Services  map[string]ServiceInfo `json:"services,omitempty"`
}

// ServiceInfo is the reported state of one managed service.
type ServiceInfo struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Error  string `json:"error,omitempty"`
}

// Checker is an interface for health checkers
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// StatusFunc contributes one section to /status.
type StatusFunc func() interface{}

// Manager runs the health checks and serves them over HTTP.
type Manager struct {
	*service.ServiceBase
	cfg          config.HealthConfig
	svcManager   *service.Manager
	checkTimeout time.Duration
	startTime    time.Time

	mu       sync.RWMutex
	checkers []Checker
	sections map[string]StatusFunc

	router     *gin.Engine
	httpServer *http.Server
	addr       net.Addr
}

// NewManager creates a new health check manager
func NewManager(cfg config.HealthConfig, svcManager *service.Manager, log *logger.Logger) *Manager {
	gin.SetMode(gin.ReleaseMode)

	m := &Manager{
		ServiceBase:  service.NewServiceBase("health", log),
		cfg:          cfg,
		svcManager:   svcManager,
		checkTimeout: DefaultCheckTimeout,
		startTime:    time.Now(),
		sections:     make(map[string]StatusFunc),
	}

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	m.router = router
	m.setupRoutes()
	return m
}

// RegisterChecker registers a health checker
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// RegisterStatus adds a named section to the /status document.
func (m *Manager) RegisterStatus(name string, fn StatusFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sections[name] = fn
}

// Handler returns the HTTP handler serving the health endpoints.
func (m *Manager) Handler() http.Handler {
	return m.router
}

// Addr returns the bound listen address, or nil before Start.
func (m *Manager) Addr() net.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.addr
}

// Start starts the health check HTTP server
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.LogInfo("Health server is disabled")
		m.GetStatus().SetStatus(service.StatusRunning)
		return nil
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      m.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	m.mu.Lock()
	m.httpServer = srv
	m.addr = ln.Addr()
	m.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.LogError("Health server error", err, "address", addr)
			m.GetStatus().SetError(err)
		}
	}()

	m.GetStatus().SetStatus(service.StatusRunning)
	m.LogInfo("Health server started", "address", ln.Addr().String())
	return nil
}

// Stop stops the health check HTTP server
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.RLock()
	srv := m.httpServer
	m.mu.RUnlock()

	if srv == nil {
		m.GetStatus().SetStatus(service.StatusStopped)
		return nil
	}

	m.LogInfo("Stopping health server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop health server: %w", err)
	}
	m.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Check runs all checkers concurrently, each under its own timeout.
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	results := make([]Check, len(checkers))
	g, gctx := errgroup.WithContext(ctx)
	for i, checker := range checkers {
		i, checker := i, checker
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, m.checkTimeout)
			defer cancel()
			results[i] = checker.Check(cctx)
			if results[i].Name == "" {
				results[i].Name = checker.Name()
			}
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]Check, len(results))
	overall := StatusHealthy
	for _, check := range results {
		checks[check.Name] = check
		overall = worse(overall, check.Status)
	}

	return Report{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		Checks:    checks,
		Services:  m.services(),
	}
}

func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func (m *Manager) services() map[string]ServiceInfo {
	if m.svcManager == nil {
		return nil
	}
	services := make(map[string]ServiceInfo)
	for name, status := range m.svcManager.GetAllStatuses() {
		info := ServiceInfo{
			Status: string(status.GetStatus()),
			Uptime: status.GetUptime().Round(time.Second).String(),
		}
		if err := status.GetError(); err != nil {
			info.Error = err.Error()
		}
		services[name] = info
	}
	return services
}

// statusDocument collects the registered /status sections in name order.
func (m *Manager) statusDocument() map[string]interface{} {
	m.mu.RLock()
	names := make([]string, 0, len(m.sections))
	for name := range m.sections {
		names = append(names, name)
	}
	sections := make(map[string]StatusFunc, len(m.sections))
	for k, v := range m.sections {
		sections[k] = v
	}
	m.mu.RUnlock()

	sort.Strings(names)
	doc := make(map[string]interface{}, len(names)+2)
	for _, name := range names {
		doc[name] = sections[name]()
	}
	doc["uptime"] = time.Since(m.startTime).Round(time.Second).String()
	doc["timestamp"] = time.Now()
	return doc
}
