package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"schoolbus-tracker/internal/apiclient"
	"schoolbus-tracker/internal/logging"
	"schoolbus-tracker/internal/route"
	"schoolbus-tracker/internal/session"
	"schoolbus-tracker/internal/sim"
)

var errRouteNotFound = errors.New("route not found")

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

type RouteResponse struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Waypoints    []route.Waypoint `json:"waypoints"`
	LengthMeters float64          `json:"lengthMeters"`
	Polyline     string           `json:"polyline,omitempty"`
}

func routeResponse(r *route.Route, withPolyline bool) RouteResponse {
	out := RouteResponse{ID: r.ID, Name: r.Name, Waypoints: r.Waypoints, LengthMeters: r.Length()}
	if withPolyline {
		out.Polyline = r.Polyline()
	}
	return out
}

type BusesResponse struct {
	Buses    []sim.Snapshot `json:"buses"`
	Count    int            `json:"count"`
	PolledAt time.Time      `json:"polledAt"`
}

// TransportStatus is the parent view of a bus.
type TransportStatus struct {
	BusID        string     `json:"busId"`
	RouteName    string     `json:"routeName"`
	Status       sim.Status `json:"status"`
	Label        string     `json:"label"`
	NextStop     *sim.ETA   `json:"nextStop,omitempty"`
	Destination  *sim.ETA   `json:"destination,omitempty"`
	Lat          float64    `json:"lat"`
	Lon          float64    `json:"lon"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	ProgressPerc int        `json:"progressPercent"`
}

var statusLabels = map[sim.Status]string{
	sim.StatusAtOrigin: "Au départ",
	sim.StatusEnRoute:  "En route",
	sim.StatusDwelling: "À l'arrêt",
	sim.StatusArrived:  "Arrivé",
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"routes":    len(s.deps.Routes),
		"buses":     len(s.deps.Buses.Snapshots()),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request) {
	out := make([]RouteResponse, 0, len(s.routeIDs))
	for _, id := range s.routeIDs {
		out = append(out, routeResponse(s.deps.Routes[id], false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getRoute(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.deps.Routes[chi.URLParam(r, "routeID")]
	if !ok {
		writeErr(w, errRouteNotFound)
		return
	}
	writeJSON(w, http.StatusOK, routeResponse(rt, true))
}

func (s *Server) listBuses(w http.ResponseWriter, r *http.Request) {
	snaps := s.deps.Buses.Snapshots()
	if routeID := r.URL.Query().Get("route_id"); routeID != "" {
		filtered := snaps[:0]
		for _, sn := range snaps {
			if sn.RouteID == routeID {
				filtered = append(filtered, sn)
			}
		}
		snaps = filtered
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, BusesResponse{Buses: snaps, Count: len(snaps), PolledAt: time.Now().UTC()})
}

func (s *Server) getBus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Buses.Snapshot(chi.URLParam(r, "busID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) busETA(w http.ResponseWriter, r *http.Request) {
	stop, err := strconv.Atoi(r.URL.Query().Get("stop"))
	if err != nil || stop < 0 {
		writeError(w, http.StatusBadRequest, "stop must be a waypoint index")
		return
	}
	eta, err := s.deps.Buses.ETA(chi.URLParam(r, "busID"), stop)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eta)
}

func (s *Server) restartBus(w http.ResponseWriter, r *http.Request) {
	busID := chi.URLParam(r, "busID")
	if err := s.deps.Buses.Restart(busID); err != nil {
		writeErr(w, err)
		return
	}
	snap, err := s.deps.Buses.Snapshot(busID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) busHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	busID := chi.URLParam(r, "busID")
	if _, err := s.deps.Buses.Snapshot(busID); err != nil {
		writeErr(w, err)
		return
	}
	positions, err := s.deps.History.RecentPositions(r.Context(), busID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) parentStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Buses.Snapshot(chi.URLParam(r, "busID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	out := TransportStatus{
		BusID:        snap.BusID,
		RouteName:    snap.RouteName,
		Status:       snap.Status,
		Label:        statusLabels[snap.Status],
		Lat:          snap.State.Lat,
		Lon:          snap.State.Lon,
		UpdatedAt:    snap.UpdatedAt,
		ProgressPerc: int(snap.Progress*100 + 0.5),
	}
	if n := len(snap.ETAs); n > 0 {
		next, last := snap.ETAs[0], snap.ETAs[n-1]
		out.NextStop = &next
		out.Destination = &last
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Alerts.List()
	if r.URL.Query().Get("unread") == "true" {
		unread := list[:0]
		for _, a := range list {
			if !a.Read {
				unread = append(unread, a)
			}
		}
		list = unread
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"unread": s.deps.Alerts.Unread(),
	})
}

func (s *Server) markAlertRead(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Alerts.MarkRead(chi.URLParam(r, "alertID")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	UserType string `json:"userType"`
}

type sessionResponse struct {
	UserType   string          `json:"userType"`
	IsLoggedIn bool            `json:"isLoggedIn"`
	User       *apiclient.User `json:"user,omitempty"`
	Redirect   string          `json:"redirect,omitempty"`
}

func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Sessions.Current(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{UserType: st.UserType, IsLoggedIn: st.IsLoggedIn, User: st.User})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	st, err := s.deps.Sessions.Login(r.Context(), req.Email, req.Password, req.UserType)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		UserType:   st.UserType,
		IsLoggedIn: true,
		User:       st.User,
		Redirect:   session.HomePath(st.UserType),
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Logout(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := s.deps.Passwords.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Stats(r.Context())
	if err != nil {
		// partial counts are still useful to the overview
		logging.FromContext(r.Context()).Warn("admin stats incomplete", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, st)
}
