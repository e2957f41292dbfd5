package cachemiddleware

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"usexplo.com/offlinecache/mod/bgsync"
	"usexplo.com/offlinecache/mod/cache"
	"usexplo.com/offlinecache/mod/offline"
	"usexplo.com/offlinecache/mod/utils"
)

// maxPushPayload bounds push bodies accepted by the control API
const maxPushPayload = 64 * 1024

// AdminHandler provides the control endpoints pages and the backend use to
// drive the manager: status, control messages, push, clicks, sync and purge.
type AdminHandler struct {
	registration *offline.Registration
	storage      cache.Storage
	adminSecret  string
	logger       *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(registration *offline.Registration, storage cache.Storage, adminSecret string, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		registration: registration,
		storage:      storage,
		adminSecret:  adminSecret,
		logger:       logger,
	}
}

// authenticate checks if the request is authorized
func (ah *AdminHandler) authenticate(r *http.Request) bool {
	if ah.adminSecret == "" {
		// No auth required
		return true
	}

	// Check Authorization header
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		return ah.secretMatches(token)
	}

	// Check query parameter
	return ah.secretMatches(r.URL.Query().Get("secret"))
}

// secretMatches compares in constant time
func (ah *AdminHandler) secretMatches(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(ah.adminSecret)) == 1
}

// guard applies authentication and the method check
func (ah *AdminHandler) guard(w http.ResponseWriter, r *http.Request, method string) bool {
	if !ah.authenticate(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// active returns the active manager or answers 503
func (ah *AdminHandler) active(w http.ResponseWriter) *offline.Manager {
	m := ah.registration.Active()
	if m == nil {
		utils.SendErrorResponseWithStatus(w, http.StatusServiceUnavailable, offline.ErrNotActive.Error())
	}
	return m
}

type managerStatus struct {
	Version string        `json:"version"`
	Store   string        `json:"store"`
	State   offline.State `json:"state"`
}

func statusOf(m *offline.Manager) *managerStatus {
	if m == nil {
		return nil
	}
	return &managerStatus{
		Version: m.Config().Version,
		Store:   m.CacheName(),
		State:   m.State(),
	}
}

// HandleStatus reports the active and waiting versions and the existing stores
func (ah *AdminHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !ah.guard(w, r, http.MethodGet) {
		return
	}

	names, err := ah.storage.Names(r.Context())
	if err != nil {
		utils.SendErrorResponse(w, "Failed to list cache stores: "+err.Error())
		return
	}

	response := map[string]interface{}{
		"active":  statusOf(ah.registration.Active()),
		"waiting": statusOf(ah.registration.Waiting()),
		"clients": ah.registration.Clients(),
		"stores":  names,
	}

	js, _ := json.Marshal(response)
	utils.SendJSONResponse(w, string(js))
}

// HandleEntries lists the keys held by the active store
func (ah *AdminHandler) HandleEntries(w http.ResponseWriter, r *http.Request) {
	if !ah.guard(w, r, http.MethodGet) {
		return
	}
	m := ah.active(w)
	if m == nil {
		return
	}

	keys, err := m.Keys(r.Context())
	if err != nil {
		utils.SendErrorResponse(w, "Failed to list cache entries: "+err.Error())
		return
	}

	js, _ := json.Marshal(keys)
	utils.SendJSONResponse(w, string(js))
}

// HandleMessage delivers a control message. A waiting manager receives it
// first since that is the version a page asks to skip waiting.
func (ah *AdminHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if !ah.guard(w, r, http.MethodPost) {
		return
	}

	var msg offline.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		utils.SendErrorResponse(w, "Invalid request body")
		return
	}

	m := ah.registration.Waiting()
	if m == nil {
		if m = ah.active(w); m == nil {
			return
		}
	}

	if err := m.HandleMessage(r.Context(), msg); err != nil {
		utils.SendErrorResponse(w, "Failed to handle message: "+err.Error())
		return
	}
	utils.SendOK(w)
}

// HandlePush shows a notification for the raw push payload in the body
func (ah *AdminHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	if !ah.guard(w, r, http.MethodPost) {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxPushPayload))
	if err != nil {
		utils.SendErrorResponse(w, "Failed to read push payload")
		return
	}

	m := ah.active(w)
	if m == nil {
		return
	}
	if err := m.HandlePush(r.Context(), data); err != nil {
		utils.SendErrorResponse(w, "Failed to show notification: "+err.Error())
		return
	}
	utils.SendOK(w)
}

// HandleNotificationClick routes a click on a shown notification
func (ah *AdminHandler) HandleNotificationClick(w http.ResponseWriter, r *http.Request) {
	if !ah.guard(w, r, http.MethodPost) {
		return
	}

	var click offline.NotificationClick
	if err := json.NewDecoder(r.Body).Decode(&click); err != nil {
		utils.SendErrorResponse(w, "Invalid request body")
		return
	}

	m := ah.active(w)
	if m == nil {
		return
	}
	if err := m.HandleNotificationClick(r.Context(), click); err != nil {
		utils.SendErrorResponse(w, "Failed to handle click: "+err.Error())
		return
	}
	utils.SendOK(w)
}

// HandleSync runs background sync. A failure answers 500 so the caller
// retries later.
func (ah *AdminHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if !ah.guard(w, r, http.MethodPost) {
		return
	}

	tag, err := utils.PostPara(r, "tag")
	if err != nil {
		tag = bgsync.DefaultTag
	}

	m := ah.active(w)
	if m == nil {
		return
	}
	if err := m.HandleSync(r.Context(), tag); err != nil {
		ah.logger.Warn("background sync failed", zap.String("tag", tag), zap.Error(err))
		utils.SendErrorResponseWithStatus(w, http.StatusInternalServerError, "Sync failed: "+err.Error())
		return
	}
	utils.SendOK(w)
}

// HandlePurge removes one cached response from the active store
func (ah *AdminHandler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	if !ah.guard(w, r, http.MethodPost) {
		return
	}

	var req struct {
		URL string `json:"url"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendErrorResponse(w, "Invalid request body")
		return
	}

	if req.URL == "" {
		utils.SendErrorResponse(w, "URL is required")
		return
	}

	m := ah.active(w)
	if m == nil {
		return
	}

	removed, err := m.Purge(r.Context(), req.URL)
	if err != nil {
		utils.SendErrorResponse(w, "Failed to purge cache: "+err.Error())
		return
	}

	js, _ := json.Marshal(map[string]interface{}{
		"success": true,
		"removed": removed,
		"url":     req.URL,
	})
	utils.SendJSONResponse(w, string(js))
}

// HandleStats returns the fetch statistics of the active manager
func (ah *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !ah.guard(w, r, http.MethodGet) {
		return
	}
	m := ah.active(w)
	if m == nil {
		return
	}
	m.Stats().HandleGetAllStats(w, r)
}

// Protect wraps h with the admin authentication
func (ah *AdminHandler) Protect(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ah.authenticate(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}
