package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// HealthReport is the /healthz payload.
type HealthReport struct {
	Status string            `json:"status"`
	Cache  string            `json:"cache,omitempty"`
	Stages map[string]string `json:"stages,omitempty"`
}

// Routes lists the collaborators served over HTTP. Nil members answer 503.
type Routes struct {
	Metrics http.Handler
	Health  func() HealthReport
}

// NewHandler dispatches /metrics and /healthz. Other paths are 404 and
// methods other than GET or HEAD are 405.
func NewHandler(routes Routes) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := parseRoute(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		switch route {
		case "metrics":
			if routes.Metrics == nil {
				http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
				return
			}
			routes.Metrics.ServeHTTP(w, r)
		case "healthz":
			report := HealthReport{Status: "ok"}
			if routes.Health != nil {
				report = routes.Health()
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(report)
		}
	})
}

func parseRoute(path string) (string, bool) {
	switch strings.ToLower(strings.Trim(path, "/")) {
	case "metrics":
		return "metrics", true
	case "health", "healthz":
		return "healthz", true
	}
	return "", false
}
