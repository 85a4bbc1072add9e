package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// criticalComponents must all report healthy before the server
// advertises readiness.
var criticalComponents = []string{"store", "transport", "scheduler"}

// HealthStatus is the JSON body served by the health endpoints.
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

// ComponentHealth is the last reported state of one component.
type ComponentHealth struct {
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker aggregates per-component reports into process health.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
}

var healthChecker = &HealthChecker{
	components: make(map[string]ComponentHealth),
	startTime:  time.Now(),
}

// SetVersion records the build version reported by health responses.
func SetVersion(version string) {
	healthChecker.mu.Lock()
	healthChecker.version = version
	healthChecker.mu.Unlock()
}

// RegisterComponent reports the state of a named component.
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	healthChecker.components[name] = ComponentHealth{
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
	healthChecker.mu.Unlock()
}

// UpdateComponent is RegisterComponent under a name that reads better
// at call sites reporting a state change.
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

func (hc *HealthChecker) base(status string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]string),
		Version:    hc.version,
		Uptime:     time.Since(hc.startTime).String(),
		StartTime:  hc.startTime,
	}
}

// GetHealth reports overall liveness: unhealthy if any registered
// component reports unhealthy.
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	out := healthChecker.base("healthy")
	for name, comp := range healthChecker.components {
		if comp.Healthy {
			out.Components[name] = "healthy"
			continue
		}
		out.Status = "unhealthy"
		out.Components[name] = "unhealthy: " + comp.Message
	}
	return out
}

// GetReadiness reports whether every critical component has registered
// and is healthy. Components that never registered count as not ready.
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	out := healthChecker.base("ready")
	for _, name := range criticalComponents {
		comp, ok := healthChecker.components[name]
		switch {
		case !ok:
			out.Status = "not_ready"
			out.Message = "waiting for " + name + " initialization"
			out.Components[name] = "not registered"
		case !comp.Healthy:
			out.Status = "not_ready"
			out.Message = "waiting for " + name
			out.Components[name] = "not ready: " + comp.Message
		default:
			out.Components[name] = "ready"
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthHandler serves the overall health report, 503 when unhealthy.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	}
}

// ReadyHandler serves the readiness report, 503 until all critical
// components are up.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		code := http.StatusOK
		if readiness.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, readiness)
	}
}

// LivenessHandler answers 200 whenever the process can serve requests.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}
