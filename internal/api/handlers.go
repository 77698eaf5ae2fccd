package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/nfowler/go-realm/internal/server"
)

func (s *RealmAPI) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("write json response: %v", err)
	}
}

// serveWs upgrades the connection and hands it to the realm server. There
// is no HTTP-level auth here: game clients authenticate in-protocol with
// their first packet.
func (s *RealmAPI) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// game clients send no Origin header
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(conn, s.rs, s.log)
	s.rs.RegisterClient(client)

	go client.Write()
	go client.Read()
}

func (s *RealmAPI) listUsers(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, s.rs.UserSummaries())
}

func (s *RealmAPI) listTransactions(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, s.rs.TransactionSummaries())
}

func (s *RealmAPI) listOffers(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, s.rs.OfferSummaries())
}

type InterruptRequest struct {
	TransactionID int `json:"transaction_id"`
	SenderID      int `json:"sender_id"`
}

// interruptTransaction force-resolves a pending transfer, notifying both
// parties so neither side leaves goods in limbo.
func (s *RealmAPI) interruptTransaction(w http.ResponseWriter, r *http.Request) {
	var req InterruptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.rs.InterruptTransaction(req.TransactionID, req.SenderID); err != nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "interrupted"})
}

type NoticeRequest struct {
	Message string `json:"message"`
}

func (s *RealmAPI) postNotice(w http.ResponseWriter, r *http.Request) {
	var req NoticeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.rs.PostNotice(req.Message)
	s.writeJson(w, http.StatusOK, map[string]string{"status": "sent"})
}
