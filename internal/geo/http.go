package geo

import (
	"context"
	"encoding/json"
	"net/http"
)

// Router computes driving routes.
type Router interface {
	Route(ctx context.Context, from, to Point) (Route, error)
}

// RouteHandler serves GET /api/v1/route?from=lat,lng&to=lat,lng for ETA
// display.
type RouteHandler struct {
	router Router
}

// NewRouteHandler constructs the handler.
func NewRouteHandler(router Router) *RouteHandler {
	return &RouteHandler{router: router}
}

func (h *RouteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	from, err := ParsePoint(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "invalid from: "+err.Error(), http.StatusBadRequest)
		return
	}
	to, err := ParsePoint(r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "invalid to: "+err.Error(), http.StatusBadRequest)
		return
	}
	route, err := h.router.Route(r.Context(), from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(route)
}
