package health

import (
	"encoding/json"
	"net/http"
)

func writeResponse(w http.ResponseWriter, code int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

// Routes registers the health, readiness and liveness endpoints on mux
func (hc *HealthChecker) Routes(mux *http.ServeMux) {
	mux.Handle("/health", hc.HTTPHandler())
	mux.Handle("/ready", hc.ReadinessHandler())
	mux.Handle("/live", hc.LivenessHandler())
}

// HTTPHandler returns an HTTP handler for the health check endpoint
func (hc *HealthChecker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response := hc.Check()

		// Degraded still answers 200
		code := http.StatusOK
		if response.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeResponse(w, code, response)
	}
}

// ReadinessHandler returns an HTTP handler for readiness checks
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response := hc.CheckReadiness()
		writeResponse(w, binaryCode(response), response)
	}
}

// LivenessHandler returns an HTTP handler for liveness checks
func (hc *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response := hc.CheckLiveness()
		writeResponse(w, binaryCode(response), response)
	}
}

// binaryCode maps readiness and liveness to 200 or 503
func binaryCode(response Response) int {
	if response.Status == StatusHealthy {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
