package realtime

import (
	"encoding/json"
	"net/http"

	"quickshare/internal/protocol"
)

type statusResponse struct {
	Status       string `json:"status"`
	ReceivedText string `json:"receivedText"`
	Role         string `json:"role"`
}

type listenRequest struct {
	Port int `json:"port"`
}

type connectRequest struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

type sendRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:       s.peer.Status(),
		ReceivedText: s.peer.ReceivedText(),
		Role:         string(s.peer.Role()),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.peer.History())
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	var req listenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := protocol.ValidatePort(req.Port); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.listen(req.Port)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "listening"})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	if req.Port == 0 {
		writeError(w, http.StatusBadRequest, "port is required")
		return
	}
	if err := protocol.ValidatePort(req.Port); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.connect(req.Address, req.Port)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "connecting"})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	s.send(req.Text)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sending"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.peer.StopServer()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
