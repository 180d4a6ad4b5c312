package health

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/plantguard/edge/internal/camera"
	"github.com/plantguard/edge/internal/service"
	"github.com/plantguard/edge/internal/video"
)

// SystemChecker reports process resources
type SystemChecker struct{}

func (c *SystemChecker) Name() string {
	return "system"
}

func (c *SystemChecker) Check(ctx context.Context) Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Check{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   "System resources OK",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"heap_alloc": m.HeapAlloc,
			"sys_bytes":  m.Sys,
			"num_gc":     m.NumGC,
			"go_version": runtime.Version(),
			"arch":       runtime.GOARCH,
		},
	}
}

// Connectivity is implemented by the message bridge.
type Connectivity interface {
	IsConnected() bool
}

// BrokerChecker checks the MQTT connection. A lost broker degrades the
// device; sensing and actuation carry on locally.
type BrokerChecker struct {
	conn Connectivity
}

func NewBrokerChecker(conn Connectivity) *BrokerChecker {
	return &BrokerChecker{conn: conn}
}

func (c *BrokerChecker) Name() string {
	return "broker"
}

func (c *BrokerChecker) Check(ctx context.Context) Check {
	check := Check{Name: c.Name(), Timestamp: time.Now()}
	if c.conn != nil && c.conn.IsConnected() {
		check.Status = StatusHealthy
		check.Message = "Connected to broker"
		return check
	}
	check.Status = StatusDegraded
	check.Message = "Not connected to broker"
	return check
}

// VideoChecker checks that frames keep arriving.
type VideoChecker struct {
	src    video.FreshnessReporter
	maxAge time.Duration
	now    func() time.Time
}

func NewVideoChecker(src video.FreshnessReporter, maxAge time.Duration) *VideoChecker {
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	return &VideoChecker{src: src, maxAge: maxAge, now: time.Now}
}

func (c *VideoChecker) Name() string {
	return "video"
}

func (c *VideoChecker) Check(ctx context.Context) Check {
	check := Check{Name: c.Name(), Timestamp: c.now(), Details: make(map[string]interface{})}

	if c.src == nil {
		check.Status = StatusDegraded
		check.Message = "Video source does not report frame times"
		return check
	}

	last := c.src.LastFrameAt()
	if last.IsZero() {
		check.Status = StatusDegraded
		check.Message = "No frame received yet"
		return check
	}

	age := c.now().Sub(last)
	check.Details["last_frame_at"] = last
	check.Details["age"] = age.Round(time.Millisecond).String()
	if age > c.maxAge {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Last frame is %s old", age.Round(time.Second))
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Receiving frames"
	return check
}

// ModelService is the remote inference runtime.
type ModelService interface {
	HealthCheck(ctx context.Context) error
}

// ModelsChecker checks that the model files are present, or that the
// remote runtime answers.
type ModelsChecker struct {
	files   []string
	service ModelService
}

// NewModelsChecker checks files when svc is nil, and svc otherwise.
func NewModelsChecker(files []string, svc ModelService) *ModelsChecker {
	return &ModelsChecker{files: files, service: svc}
}

func (c *ModelsChecker) Name() string {
	return "models"
}

func (c *ModelsChecker) Check(ctx context.Context) Check {
	check := Check{Name: c.Name(), Timestamp: time.Now(), Details: make(map[string]interface{})}

	if c.service != nil {
		if err := c.service.HealthCheck(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Inference service unreachable: %v", err)
			return check
		}
		check.Status = StatusHealthy
		check.Message = "Inference service is reachable"
		return check
	}

	for _, path := range c.files {
		info, err := os.Stat(path)
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Model file unavailable: %v", err)
			return check
		}
		check.Details[path] = info.Size()
	}
	check.Status = StatusHealthy
	check.Message = "Model files present"
	return check
}

// ProbeFunc describes an RTSP stream.
type ProbeFunc func(ctx context.Context, url string, timeout time.Duration) (*camera.ProbeResult, error)

// RTSPChecker checks that the camera answers RTSP DESCRIBE.
type RTSPChecker struct {
	url     string
	timeout time.Duration
	probe   ProbeFunc
}

func NewRTSPChecker(url string, timeout time.Duration) *RTSPChecker {
	return &RTSPChecker{url: url, timeout: timeout, probe: camera.Probe}
}

func (c *RTSPChecker) Name() string {
	return "camera"
}

func (c *RTSPChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"url": camera.Redact(c.url)},
	}

	res, err := c.probe(ctx, c.url, c.timeout)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Camera unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Camera reachable"
	check.Details["medias"] = res.Medias
	check.Details["codecs"] = res.Codecs
	check.Details["latency"] = res.Latency.Round(time.Millisecond).String()
	return check
}

// ServicesChecker fails when any managed service has stopped on an error,
// such as the capture loop after losing its stream.
type ServicesChecker struct {
	svcManager *service.Manager
}

func NewServicesChecker(svcManager *service.Manager) *ServicesChecker {
	return &ServicesChecker{svcManager: svcManager}
}

func (c *ServicesChecker) Name() string {
	return "services"
}

func (c *ServicesChecker) Check(ctx context.Context) Check {
	check := Check{Name: c.Name(), Timestamp: time.Now(), Details: make(map[string]interface{})}

	failed := 0
	for name, status := range c.svcManager.GetAllStatuses() {
		if status.GetStatus() != service.StatusError {
			continue
		}
		failed++
		if err := status.GetError(); err != nil {
			check.Details[name] = err.Error()
		} else {
			check.Details[name] = string(service.StatusError)
		}
	}

	if failed > 0 {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("%d service(s) failed", failed)
		return check
	}
	check.Status = StatusHealthy
	check.Message = "All services running"
	return check
}
