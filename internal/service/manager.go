package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/plantguard/edge/internal/logger"
)

// DefaultStopTimeout bounds each service's Stop during shutdown.
const DefaultStopTimeout = 10 * time.Second

// Manager manages the lifecycle of all services
type Manager struct {
	logger      *logger.Logger
	services    []Service
	statuses    map[string]*ServiceStatus
	eventBus    *EventBus
	mu          sync.RWMutex
	startOrder  []Service // Track service start order for proper shutdown
	stopTimeout time.Duration
}

// Service represents a service that can be started and stopped. Start must
// return once the service is running; long-lived work runs in goroutines
// owned by the service.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that can publish events
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

// StatusProvider is implemented by services that track their own status,
// usually through an embedded ServiceBase.
type StatusProvider interface {
	GetStatus() *ServiceStatus
}

// NewManager creates a new service manager
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:      log,
		services:    make([]Service, 0),
		statuses:    make(map[string]*ServiceStatus),
		eventBus:    NewEventBus(100),
		startOrder:  make([]Service, 0),
		stopTimeout: DefaultStopTimeout,
	}
}

// SetStopTimeout overrides the per-service stop timeout
func (m *Manager) SetStopTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.stopTimeout = d
	}
}

// GetEventBus returns the event bus for inter-service communication
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register registers a service with the manager. Services start in
// registration order and stop in reverse.
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, svc)

	var status *ServiceStatus
	if sp, ok := svc.(StatusProvider); ok && sp.GetStatus() != nil {
		status = sp.GetStatus()
	} else {
		status = NewServiceStatus(svc.Name())
	}
	m.statuses[svc.Name()] = status

	if svcWithEvents, ok := svc.(ServiceWithEvents); ok {
		svcWithEvents.SetEventBus(m.eventBus)
	}
}

// Start starts all registered services one after another. The first
// failure aborts startup; services already started are left running so
// Shutdown can stop them.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	services := append([]Service(nil), m.services...)
	m.mu.RUnlock()

	m.logger.Info("Starting services", "count", len(services))

	m.startEventMonitoring(ctx)

	for _, svc := range services {
		status := m.GetServiceStatus(svc.Name())
		status.SetStatus(StatusStarting)

		if err := svc.Start(ctx); err != nil {
			status.SetError(err)
			m.logger.Error("Service failed to start",
				"service", svc.Name(),
				"error", err,
			)
			m.eventBus.Publish(Event{
				Type:   EventTypeServiceError,
				Source: svc.Name(),
				Data: map[string]interface{}{
					"error": err.Error(),
				},
			})
			return fmt.Errorf("failed to start %s: %w", svc.Name(), err)
		}

		m.mu.Lock()
		m.startOrder = append(m.startOrder, svc)
		m.mu.Unlock()
		if status.GetStatus() == StatusStarting {
			status.SetStatus(StatusRunning)
		}
		m.logger.Info("Service started", "service", svc.Name())
		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStarted,
			Source: "manager",
			Data: map[string]interface{}{
				"service": svc.Name(),
			},
		})
	}

	return nil
}

// startEventMonitoring logs every bus event at debug level
func (m *Manager) startEventMonitoring(ctx context.Context) {
	ch := m.eventBus.SubscribeAll()
	go func() {
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				m.logger.Debug("Event received",
					"type", event.Type,
					"source", event.Source,
					"timestamp", event.Timestamp,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops started services in reverse order. Each Stop gets its own
// timeout; a failing Stop is logged and shutdown continues with the next
// service.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	started := m.startOrder
	m.startOrder = nil
	stopTimeout := m.stopTimeout
	m.mu.Unlock()

	m.logger.Info("Shutting down services", "count", len(started))

	defer m.eventBus.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(started) - 1; i >= 0; i-- {
			svc := started[i]
			status := m.GetServiceStatus(svc.Name())

			status.SetStatus(StatusStopping)
			m.logger.Info("Stopping service", "service", svc.Name())

			stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
			if err := svc.Stop(stopCtx); err != nil {
				status.SetError(err)
				m.logger.Error("Error stopping service",
					"service", svc.Name(),
					"error", err,
				)
			} else {
				status.SetStatus(StatusStopped)
				m.logger.Info("Service stopped", "service", svc.Name())
			}
			cancel()

			m.eventBus.Publish(Event{
				Type:   EventTypeServiceStopped,
				Source: "manager",
				Data: map[string]interface{}{
					"service": svc.Name(),
				},
			})
		}
	}()

	select {
	case <-done:
		m.logger.Info("All services stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// GetServiceCount returns the number of registered services
func (m *Manager) GetServiceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}

// GetServiceStatus returns the status of a service
func (m *Manager) GetServiceStatus(serviceName string) *ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[serviceName]
}

// GetAllStatuses returns all service statuses
func (m *Manager) GetAllStatuses() map[string]*ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]*ServiceStatus, len(m.statuses))
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}
