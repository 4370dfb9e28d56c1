package tripsync

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/tripsync/coordinator"
	"github.com/hazyhaar/tripsync/model"
)

// Router returns the engine's HTTP surface. This is the interface the app
// shell talks to: entity CRUD through the coordinator, sync control, and the
// connectivity hooks a mobile shell forwards (reachability changes, app
// foregrounding).
func (e *Engine) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/status", e.handleStatus)
	r.Post("/sync/now", e.handleSyncNow)
	r.Post("/login/{ownerID}", e.handleLogin)

	r.Get("/queue", e.handleQueueList)
	r.Delete("/queue/{id}", e.handleQueueDelete)

	r.Post("/connectivity/online", e.handleConnectivity(true))
	r.Post("/connectivity/offline", e.handleConnectivity(false))
	r.Post("/connectivity/foreground", e.handleForeground)

	r.Route("/profiles", func(r chi.Router) {
		r.Put("/", e.handleSaveProfile)
		r.Get("/{id}", e.handleGetProfile)
		r.Delete("/{id}", e.handleDeleteProfile)
	})

	r.Route("/trips", func(r chi.Router) {
		r.Post("/", e.handleStartTrip)
		r.Get("/", e.handleListTrips)
		r.Get("/{id}", e.handleGetTrip)
		r.Put("/{id}", e.handleUpdateTrip)
		r.Post("/{id}/complete", e.handleCompleteTrip)
		r.Delete("/{id}", e.handleDeleteTrip)
	})

	r.Route("/features", func(r chi.Router) {
		r.Put("/", e.handleSaveFeature)
		r.Get("/", e.handleListFeatures)
		r.Get("/{id}", e.handleGetFeature)
		r.Delete("/{id}", e.handleDeleteFeature)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// needsCoordinator guards mutation endpoints when no remote store is
// configured.
func (e *Engine) needsCoordinator(w http.ResponseWriter) bool {
	if e.coord == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			map[string]string{"error": "no remote store configured"})
		return false
	}
	return true
}

func (e *Engine) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := e.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (e *Engine) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if e.sync == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			map[string]string{"error": "no remote store configured"})
		return
	}
	res, err := e.sync.SyncNow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *Engine) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !e.needsCoordinator(w) {
		return
	}
	applied, err := e.coord.Login(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"applied": applied})
}

func (e *Engine) handleQueueList(w http.ResponseWriter, r *http.Request) {
	items, err := e.queue.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []model.MutationRecord{}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleQueueDelete discards a queued mutation, including retry-exhausted
// items the user gave up on. The local copy is untouched.
func (e *Engine) handleQueueDelete(w http.ResponseWriter, r *http.Request) {
	if err := e.queue.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) handleConnectivity(online bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		e.hub.SetOnline(online)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (e *Engine) handleForeground(w http.ResponseWriter, _ *http.Request) {
	e.hub.Foreground()
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	if !e.needsCoordinator(w) {
		return
	}
	var p model.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := e.coord.SaveProfile(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (e *Engine) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, ok, err := e.local.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (e *Engine) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if !e.needsCoordinator(w) {
		return
	}
	if err := e.coord.DeleteProfile(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) handleStartTrip(w http.ResponseWriter, r *http.Request) {
	if !e.needsCoordinator(w) {
		return
	}
	var body struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OwnerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id required"})
		return
	}
	trip, err := e.coord.StartTrip(r.Context(), body.OwnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

func (e *Engine) handleListTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := e.local.Trips(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if trips == nil {
		trips = []model.Trip{}
	}
	writeJSON(w, http.StatusOK, trips)
}

func (e *Engine) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	trip, ok, err := e.local.Trip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (e *Engine) handleUpdateTrip(w http.ResponseWriter, r *http.Request) {
	if !e.needsCoordinator(w) {
		return
	}
	var trip model.Trip
	if err := json.NewDecoder(r.Body).Decode(&trip); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	trip.ID = chi.URLParam(r, "id")
	saved, err := e.coord.UpdateTrip(r.Context(), trip)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (e *Engine) handleCompleteTrip(w http.ResponseWriter, r *http.Request) {
	if !e.needsCoordinator(w) {
		return
	}
	trip, err := e.coord.CompleteTrip(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, coordinator.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (e *Engine) handleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	if !e.needsCoordinator(w) {
		return
	}
	if err := e.coord.DeleteTrip(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) handleSaveFeature(w http.ResponseWriter, r *http.Request) {
	if !e.needsCoordinator(w) {
		return
	}
	var f model.RatedFeature
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := e.coord.SaveRatedFeature(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (e *Engine) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	feats, err := e.local.RatedFeatures(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if feats == nil {
		feats = []model.RatedFeature{}
	}
	writeJSON(w, http.StatusOK, feats)
}

func (e *Engine) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	f, ok, err := e.local.RatedFeature(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (e *Engine) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	if !e.needsCoordinator(w) {
		return
	}
	if err := e.coord.DeleteRatedFeature(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
