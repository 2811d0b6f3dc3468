package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kiranatap/kirana/internal/orchestrator"
)

// Server is the HTTP face of the system: a small JSON API plus the websocket
// endpoint for live order updates.
type Server struct {
	svc    *Service
	hub    *Hub
	router chi.Router
}

func NewServer(svc *Service, hub *Hub) *Server {
	s := &Server{svc: svc, hub: hub}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/health", s.handleHealth)
	r.Post("/api/chat", s.handleChat)
	r.Route("/api/orders/{orderID}", func(r chi.Router) {
		r.Get("/", s.handleOrderStatus)
		r.Post("/confirm", s.handleConfirm)
	})
	if hub != nil {
		r.Get("/ws", hub.ServeWS)
	}

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

type chatRequest struct {
	Message string `json:"message"`
	OrderID string `json:"order_id,omitempty"`
}

type chatResponse struct {
	Reply   string `json:"reply"`
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"active_orders": s.svc.Orch.ActiveCount(),
	})
}

// handleChat accepts free text. A confirmation message must carry the order
// id it confirms; HTTP has no connection identity to bind a bare "yes" to.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	if IsConfirmation(req.Message) {
		if req.OrderID == "" {
			writeJSON(w, http.StatusOK, chatResponse{
				Reply: "Which order? Include the order_id you want to confirm.",
			})
			return
		}
		s.confirm(w, r, req.OrderID)
		return
	}

	ord, reply, err := s.svc.ParseOrder(r.Context(), req.Message)
	if err != nil {
		log.Printf("chat parse failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not understand the order")
		return
	}

	resp := chatResponse{Reply: reply}
	if ord != nil {
		resp.OrderID = ord.ID
		resp.Status = string(ord.Status)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.confirm(w, r, chi.URLParam(r, "orderID"))
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request, orderID string) {
	reply, err := s.svc.Confirm(r.Context(), orderID)
	switch {
	case err == nil:
		ord, _ := s.svc.Status(orderID)
		writeJSON(w, http.StatusAccepted, chatResponse{
			Reply:   reply,
			OrderID: orderID,
			Status:  string(ord.Status),
		})
	case errors.Is(err, orchestrator.ErrUnknownOrder):
		writeError(w, http.StatusNotFound, "no such order")
	case errors.Is(err, orchestrator.ErrAlreadyRunning), errors.Is(err, orchestrator.ErrNotPending):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("confirm %s failed: %v", orderID, err)
		writeError(w, http.StatusInternalServerError, "could not start the order")
	}
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	ord, ok := s.svc.Status(chi.URLParam(r, "orderID"))
	if !ok {
		writeError(w, http.StatusNotFound, "no such order")
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
