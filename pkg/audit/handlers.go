package audit

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/federate/pkg/httputil"
)

// Handlers exposes the audit trail over HTTP
type Handlers struct {
	logger *DBLogger
}

// NewHandlers creates audit handlers
func NewHandlers(logger *DBLogger) *Handlers {
	return &Handlers{logger: logger}
}

// RegisterRoutes registers the audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/audit/events", h.searchEvents).Methods("GET")
}

// searchEvents handles GET /api/v1/audit/events
func (h *Handlers) searchEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := SearchFilter{
		Tenant:  query.Get("tenant"),
		Product: query.Get("product"),
		Status:  EventStatus(query.Get("status")),
	}

	if eventType := query.Get("event_type"); eventType != "" {
		filter.EventTypes = []EventType{EventType(eventType)}
	}
	if since := query.Get("since"); since != "" {
		start, err := time.Parse(time.RFC3339, since)
		if err != nil {
			httputil.WriteValidationError(w, "since must be RFC3339")
			return
		}
		filter.StartTime = &start
	}
	if until := query.Get("until"); until != "" {
		end, err := time.Parse(time.RFC3339, until)
		if err != nil {
			httputil.WriteValidationError(w, "until must be RFC3339")
			return
		}
		filter.EndTime = &end
	}

	var err error
	filter.Limit, err = httputil.ParseQueryInt(r, "limit", defaultSearchLimit)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	events, err := h.logger.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if events == nil {
		events = []*Event{}
	}

	httputil.WriteJSONOrError(w, http.StatusOK, events, "failed to encode audit events")
}
