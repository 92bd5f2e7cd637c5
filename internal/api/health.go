package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

type HealthHandler struct {
	required map[string]Check
	optional map[string]Check
	env      string
	version  string
}

// NewHealthHandler builds liveness/readiness handlers. A failing required
// check makes the service unready; a failing optional one only degrades it.
func NewHealthHandler(required, optional map[string]Check, env, version string) *HealthHandler {
	return &HealthHandler{
		required: required,
		optional: optional,
		env:      env,
		version:  version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	for _, name := range sortedNames(h.required) {
		if runCheck(ctx, h.required[name]) != nil {
			deps[name] = "down"
			status = "error"
		} else {
			deps[name] = "ok"
		}
	}
	for _, name := range sortedNames(h.optional) {
		if runCheck(ctx, h.optional[name]) != nil {
			deps[name] = "down"
			if status == "ok" {
				status = "degraded"
			}
		} else {
			deps[name] = "ok"
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}

func runCheck(ctx context.Context, c Check) error {
	checkCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return c(checkCtx)
}

func sortedNames(m map[string]Check) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
