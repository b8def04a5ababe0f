package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"propsync-service/internal/breaker"
	"propsync-service/internal/netmon"
	"propsync-service/internal/queue"
	"propsync-service/internal/reconnect"
	syncsvc "propsync-service/internal/sync"
)

type Handler struct {
	svc       *syncsvc.Service
	recon     *reconnect.Manager
	store     queue.Store
	brk       *breaker.Breaker
	net       *netmon.Notifier
	authToken string
}

func NewHandler(svc *syncsvc.Service, recon *reconnect.Manager, store queue.Store, brk *breaker.Breaker, net *netmon.Notifier, authToken string) *Handler {
	return &Handler{
		svc:       svc,
		recon:     recon,
		store:     store,
		brk:       brk,
		net:       net,
		authToken: authToken,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Get("/sync/status", h.GetStatus)
		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/history", h.GetHistory)
		r.Post("/reconnect", h.ForceReconnect)
		r.Post("/network", h.SetNetworkState)
		r.Get("/queue/dead-letters", h.GetDeadLetters)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.store.PendingCount(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"online":    h.net.IsOnline(),
		"circuit":   h.brk.State().String(),
		"pending":   pending,
		"reconnect": h.recon.Status(),
	})
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ForceSync(r.Context())
	if err != nil {
		// The pass was skipped, not failed; tell the caller why.
		status := http.StatusConflict
		if errors.Is(err, syncsvc.ErrOffline) || errors.Is(err, breaker.ErrOpen) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"skipped": err.Error(),
			"result":  res,
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	history, err := h.store.ListSyncHistory(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) ForceReconnect(w http.ResponseWriter, r *http.Request) {
	h.recon.ForceReconnect()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}

// SetNetworkState injects the external online/offline signal. Whatever hosts
// this service (desktop shell, supervisor) forwards its connectivity events
// here.
func (h *Handler) SetNetworkState(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	h.net.SetOnline(body.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": body.Online})
}

func (h *Handler) GetDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	items, err := h.store.ListDeadLetters(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authToken != "" && r.Header.Get("Authorization") != "Bearer "+h.authToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
