package api

import (
	"context"
	"fmt"
	"net/http"
)

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	degrade := func() {
		overallStatus = "degraded"
		statusCode = http.StatusServiceUnavailable
	}
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			degrade()
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 6)

	if h.Scheduler != nil {
		var err error
		if !h.Scheduler.Running() {
			err = fmt.Errorf("scheduler not running")
		}
		components = append(components, recordComponent("scheduler", err))
	}

	if h.Store != nil {
		components = append(components, recordComponent("storage", h.Store.Ping(ctx)))
	}

	if h.Breaker != nil {
		var err error
		if open := h.Breaker.OpenCount(); open > 0 {
			err = fmt.Errorf("%d of %d circuits open", open, len(h.Breaker.Snapshot()))
		}
		components = append(components, recordComponent("circuit_breakers", err))
	}

	if h.Keys != nil && h.Keys.Len() > 0 {
		var err error
		if h.Keys.AvailableCount() == 0 {
			err = fmt.Errorf("all %d keys exhausted", h.Keys.Len())
		}
		components = append(components, recordComponent("key_pool", err))
	}

	if h.Classifier != nil {
		for _, check := range h.Classifier.Health(ctx) {
			component := componentStatus{
				Component: check.Component,
				Status:    check.Status,
				Error:     check.Error,
			}
			if check.Status != "ok" && check.Status != "disabled" {
				degrade()
			}
			components = append(components, component)
		}
	}

	return components, overallStatus, statusCode
}
