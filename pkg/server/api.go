package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/NicolasHaas/townhall/pkg/logging"
	"github.com/NicolasHaas/townhall/pkg/model"
	"github.com/NicolasHaas/townhall/pkg/town"
)

const (
	msgInvalidUpdate   = "Invalid password or update values specified"
	msgInvalidPassword = "Invalid password. Please double check your town update password."
	msgUnknownTown     = "Unknown town"
	msgNameRequired    = "FriendlyName must be specified"

	defaultNotificationLimit = 20
	maxRequestBody           = 64 << 10
)

var validate = validator.New()

// Envelope wraps every REST response.
type Envelope struct {
	IsOK     bool   `json:"isOK"`
	Message  string `json:"message,omitempty"`
	Response any    `json:"response,omitempty"`
}

type TownCreateRequest struct {
	FriendlyName     string `json:"friendlyName"`
	IsPubliclyListed bool   `json:"isPubliclyListed"`
}

type TownCreateResponse struct {
	CoveyTownID       string `json:"coveyTownID"`
	CoveyTownPassword string `json:"coveyTownPassword"`
}

type TownListResponse struct {
	Towns []model.TownListing `json:"towns"`
}

type TownUpdateRequest struct {
	CoveyTownPassword string  `json:"coveyTownPassword" validate:"required"`
	FriendlyName      *string `json:"friendlyName,omitempty" validate:"omitnil,max=64"`
	IsPubliclyListed  *bool   `json:"isPubliclyListed,omitempty"`
}

type AnnouncementRequest struct {
	CoveyTownPassword string `json:"coveyTownPassword" validate:"required"`
	Content           string `json:"content"`
}

type NotificationsResponse struct {
	Notifications []model.Event `json:"notifications"`
}

// Handler returns the REST and websocket routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /towns", s.handleCreateTown)
	mux.HandleFunc("GET /towns", s.handleListTowns)
	mux.HandleFunc("PATCH /towns/{townID}", s.handleUpdateTown)
	mux.HandleFunc("DELETE /towns/{townID}/{townPassword}", s.handleDeleteTown)
	mux.HandleFunc("POST /towns/{townID}/announcements", s.handleAnnouncement)
	mux.HandleFunc("POST /towns/{townID}/messages", s.handleMessage)
	mux.HandleFunc("GET /towns/{townID}/notifications", s.handleNotifications)
	mux.HandleFunc("GET /towns/{townID}/events", s.handleEvents)
	return mux
}

func (s *Server) handleCreateTown(w http.ResponseWriter, r *http.Request) {
	var req TownCreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := model.ValidateFriendlyName(req.FriendlyName); err != nil {
		writeFail(w, http.StatusBadRequest, msgNameRequired)
		return
	}
	c := s.towns.CreateTown(req.FriendlyName, req.IsPubliclyListed)
	writeOK(w, TownCreateResponse{CoveyTownID: c.ID(), CoveyTownPassword: c.UpdatePassword()})
}

func (s *Server) handleListTowns(w http.ResponseWriter, _ *http.Request) {
	towns := s.towns.GetTowns()
	if towns == nil {
		towns = []model.TownListing{}
	}
	writeOK(w, TownListResponse{Towns: towns})
}

func (s *Server) handleUpdateTown(w http.ResponseWriter, r *http.Request) {
	var req TownUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.towns.UpdateTown(r.PathValue("townID"), req.CoveyTownPassword, req.FriendlyName, req.IsPubliclyListed) {
		writeFail(w, http.StatusBadRequest, msgInvalidUpdate)
		return
	}
	writeOK(w, struct{}{})
}

func (s *Server) handleDeleteTown(w http.ResponseWriter, r *http.Request) {
	if !s.towns.DeleteTown(r.PathValue("townID"), r.PathValue("townPassword")) {
		writeFail(w, http.StatusBadRequest, msgInvalidPassword)
		return
	}
	writeOK(w, struct{}{})
}

func (s *Server) handleAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req AnnouncementRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := model.ValidateContent(req.Content); err != nil {
		writeFail(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.towns.CreateAnnouncement(r.PathValue("townID"), req.CoveyTownPassword, req.Content) {
		writeFail(w, http.StatusBadRequest, msgInvalidPassword)
		return
	}
	s.metrics.Announcements.Add(1)
	writeOK(w, struct{}{})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg model.MessageRequest
	if !s.decode(w, r, &msg) {
		return
	}
	townID := r.PathValue("townID")
	switch msg.RoomID {
	case "":
		msg.RoomID = townID
	case townID:
	default:
		writeFail(w, http.StatusBadRequest, "roomID does not match town")
		return
	}
	if !s.towns.CreateNotification(msg) {
		s.metrics.NotificationsRejected.Add(1)
		writeFail(w, http.StatusBadRequest, msgUnknownTown)
		return
	}
	s.metrics.NotificationsRouted.Add(1)
	writeOK(w, struct{}{})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || validate.Var(n, "min=1,max=100") != nil {
			writeFail(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	townID := r.PathValue("townID")
	events, err := s.journal.Notifications(townID, int64(limit))
	if err != nil {
		s.log.Error("read notifications", logging.Town(townID), logging.Err(err))
		writeFail(w, http.StatusInternalServerError, "Could not read notifications")
		return
	}
	if events == nil {
		writeFail(w, http.StatusBadRequest, msgUnknownTown)
		return
	}
	writeOK(w, NotificationsResponse{Notifications: events})
}

// handleEvents upgrades to a websocket and registers the connection as a
// town listener. With ?userName= the caller also joins the roster.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c := s.towns.GetControllerForTown(r.PathValue("townID"))
	if c == nil {
		writeFail(w, http.StatusBadRequest, msgUnknownTown)
		return
	}
	userName := r.URL.Query().Get("userName")
	if userName != "" {
		if err := model.ValidateUserName(userName); err != nil {
			writeFail(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", logging.Town(c.ID()), logging.Err(err))
		return
	}
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)

	client := newWSClient(conn, c, s.metrics)
	s.attachClient(c, client, userName)

	go client.writePump()
	go client.readPump()
}

// attachClient registers client on c and joins userName to the roster. A
// town deleted before the listener was added never destroys the client, so
// it is closed here instead.
func (s *Server) attachClient(c *town.Controller, client *wsClient, userName string) bool {
	c.AddListener(client)
	if s.towns.GetControllerForTown(c.ID()) != c {
		s.log.Debug("town deleted while attaching listener", logging.Town(c.ID()))
		client.OnTownDestroyed()
		return false
	}
	if userName != "" {
		client.playerID = c.AddPlayer(userName).ID
	}
	return true
}

// decode reads a JSON body and validates it. On failure it writes the 400
// response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeFail(w, http.StatusBadRequest, "Invalid field "+verrs[0].Field())
			return false
		}
		writeFail(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeOK(w http.ResponseWriter, response any) {
	writeJSON(w, http.StatusOK, Envelope{IsOK: true, Response: response})
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{IsOK: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
