package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/devices"
	"github.com/Maaku050/Sentrilock/internal/dispatch"
	"github.com/Maaku050/Sentrilock/internal/engine"
	"github.com/Maaku050/Sentrilock/internal/incidents"
	"github.com/Maaku050/Sentrilock/internal/logstore"
	"github.com/Maaku050/Sentrilock/internal/metrics"
	"github.com/Maaku050/Sentrilock/internal/model"
	"github.com/Maaku050/Sentrilock/internal/occupancy"
	"github.com/Maaku050/Sentrilock/internal/persons"
	"github.com/Maaku050/Sentrilock/internal/storage"
)

type EngineControl interface {
	Reset()
	UpdateConfig(cfg *config.Config)
	State() engine.State
	Started() time.Time
}

// DoorControl is the slice of the device-control client the API needs. Nil
// when device control is not configured.
type DoorControl interface {
	Unlock(ctx context.Context, roomID string) error
	RegisterPerson(ctx context.Context, p model.Person, imageRef string) error
	RemovePerson(ctx context.Context, personID string) error
}

// Deps wires the admin API to the rest of the daemon. Optional pieces may
// be nil; the matching endpoints answer 503.
type Deps struct {
	Config    *config.Manager
	Engine    EngineControl
	Monitor   *engine.Monitor
	Logs      *logstore.Store
	Incidents *incidents.Store
	Occupancy *occupancy.Tracker
	Devices   *devices.Registry
	Persons   *persons.Registry
	Notices   *dispatch.NoticeCenter
	Metrics   *metrics.Metrics
	Storage   storage.Store
	Doors     DoorControl
	Logger    *slog.Logger
	Version   string
}

type Server struct {
	cfg       *config.Manager
	engine    EngineControl
	monitor   *engine.Monitor
	logs      *logstore.Store
	incidents *incidents.Store
	occupancy *occupancy.Tracker
	devices   *devices.Registry
	persons   *persons.Registry
	notices   *dispatch.NoticeCenter
	metrics   *metrics.Metrics
	store     storage.Store
	doors     DoorControl
	logger    *slog.Logger
	version   string
}

type statusResponse struct {
	Status     string          `json:"status"`
	Time       string          `json:"time"`
	Version    string          `json:"version"`
	ConfigPath string          `json:"config_path"`
	State      string          `json:"state"`
	Monitoring bool            `json:"monitoring"`
	Uptime     string          `json:"uptime"`
	Feed       feedStatus      `json:"feed"`
	API        apiStatus       `json:"api"`
	Detection  detectionStatus `json:"detection"`
	Counts     countsStatus    `json:"counts"`
}

type feedStatus struct {
	Kafka    bool `json:"kafka"`
	Postgres bool `json:"postgres"`
	REST     bool `json:"rest"`
	FileTail bool `json:"file_tail"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type detectionStatus struct {
	WindowSize  int `json:"window_size"`
	HistorySize int `json:"history_size"`
}

type countsStatus struct {
	Logs      int `json:"logs"`
	Incidents int `json:"incidents"`
	Devices   int `json:"devices"`
	Persons   int `json:"persons"`
	Notices   int `json:"notices"`
}

func Start(ctx context.Context, deps Deps) *http.Server {
	if deps.Config == nil {
		return nil
	}
	current := deps.Config.Get().API
	if !current.Enabled {
		if deps.Logger != nil {
			deps.Logger.Info("api disabled")
		}
		return nil
	}
	if deps.Logger != nil {
		deps.Logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(deps)

	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if deps.Logger != nil {
				deps.Logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func NewServer(deps Deps) *Server {
	return &Server{
		cfg:       deps.Config,
		engine:    deps.Engine,
		monitor:   deps.Monitor,
		logs:      deps.Logs,
		incidents: deps.Incidents,
		occupancy: deps.Occupancy,
		devices:   deps.Devices,
		persons:   deps.Persons,
		notices:   deps.Notices,
		metrics:   deps.Metrics,
		store:     deps.Storage,
		doors:     deps.Doors,
		logger:    deps.Logger,
		version:   deps.Version,
	}
}

// Handler builds the route table. Split out from Start so tests can drive
// the mux without a listening socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/monitor", s.handleMonitor)
	mux.HandleFunc("/monitor/acknowledge", s.handleAcknowledge)
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/occupancy", s.handleOccupancy)
	mux.HandleFunc("/occupancy/", s.handleOccupancy)
	mux.HandleFunc("/incidents", s.handleIncidents)
	mux.HandleFunc("/incidents/", s.handleIncidentAction)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/devices/", s.handleDeviceAction)
	mux.HandleFunc("/persons", s.handlePersons)
	mux.HandleFunc("/persons/", s.handlePerson)
	mux.HandleFunc("/rooms/", s.handleRoom)
	mux.HandleFunc("/notifications", s.handleNotifications)
	mux.HandleFunc("/notifications/", s.handleNotificationAction)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/restart", s.handleRestart)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Feed: feedStatus{
			Kafka:    cfg.Feed.Kafka.Enabled,
			Postgres: cfg.Feed.Postgres.Enabled,
			REST:     cfg.Feed.REST.Enabled,
			FileTail: cfg.Feed.FileTail.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Detection: detectionStatus{
			WindowSize:  cfg.Detection.WindowSize,
			HistorySize: cfg.Detection.HistorySize,
		},
	}
	if s.engine != nil {
		resp.State = string(s.engine.State())
		if started := s.engine.Started(); !started.IsZero() {
			resp.Uptime = time.Since(started).Round(time.Second).String()
		}
	}
	if s.monitor != nil {
		resp.Monitoring = s.monitor.IsMonitoring()
	}
	if s.logs != nil {
		resp.Counts.Logs = s.logs.Len()
	}
	if s.incidents != nil {
		resp.Counts.Incidents = s.incidents.Len()
	}
	if s.devices != nil {
		resp.Counts.Devices = s.devices.Len()
	}
	if s.persons != nil {
		resp.Counts.Persons = s.persons.Len()
	}
	if s.notices != nil {
		resp.Counts.Notices = s.notices.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	detection, monitoring := s.monitor.Status()
	resp := map[string]any{
		"monitoring": monitoring,
		"detection":  detection,
	}
	if s.engine != nil {
		resp["state"] = string(s.engine.State())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cleared := s.monitor.Acknowledge()
	if s.logger != nil && cleared {
		s.logger.Info("detection acknowledged")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cleared": cleared})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	f := logstore.Filter{
		RoomID: q.Get("room_id"),
		UserID: q.Get("user_id"),
	}
	if v := q.Get("action"); v != "" {
		f.Action = model.Action(v)
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		f.Since = ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until timestamp")
			return
		}
		f.Until = ts
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Offset = n
		}
	}
	entries, total := s.logs.List(f)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
		"total":   total,
	})
}

func (s *Server) handleOccupancy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	roomID := strings.TrimPrefix(r.URL.Path, "/occupancy")
	roomID = strings.Trim(roomID, "/")
	if roomID != "" {
		room, ok := s.occupancy.Get(roomID)
		if !ok {
			writeError(w, http.StatusNotFound, "room not tracked")
			return
		}
		writeJSON(w, http.StatusOK, room)
		return
	}
	rooms := s.occupancy.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms": rooms,
		"count": len(rooms),
	})
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	status := q.Get("status")
	if status != "" && status != model.IncidentStatusOpen && status != model.IncidentStatusClosed {
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	list := s.incidents.List(limit, status)
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": list,
		"count":     len(list),
	})
}

func (s *Server) handleIncidentAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/incidents/")
	switch {
	case strings.HasSuffix(rest, "/close"):
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimSuffix(rest, "/close")
		if !s.incidents.Close(id) {
			writeError(w, http.StatusNotFound, "unknown incident")
			return
		}
		if s.store != nil {
			_ = s.store.SetIncidentStatus(r.Context(), id, model.IncidentStatusClosed)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case rest != "" && !strings.Contains(rest, "/"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		inc, ok := s.incidents.Get(rest)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown incident")
			return
		}
		writeJSON(w, http.StatusOK, inc)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.devices.List()
		writeJSON(w, http.StatusOK, map[string]any{
			"devices": list,
			"count":   len(list),
		})
	case http.MethodPost:
		var req model.Device
		if !decodeBody(w, r, &req) {
			return
		}
		req.Token = strings.TrimSpace(req.Token)
		if req.Token == "" {
			writeError(w, http.StatusBadRequest, "token is required")
			return
		}
		d := s.devices.Register(req)
		if s.logger != nil {
			s.logger.Info("device registered", "operator", d.Operator, "platform", d.Platform)
		}
		writeJSON(w, http.StatusOK, d)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/devices/")
	switch {
	case strings.HasSuffix(rest, "/enable") || strings.HasSuffix(rest, "/disable"):
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		enable := strings.HasSuffix(rest, "/enable")
		token := strings.TrimSuffix(strings.TrimSuffix(rest, "/enable"), "/disable")
		if !s.devices.SetEnabled(token, enable) {
			writeError(w, http.StatusNotFound, "unknown device")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case rest != "" && !strings.Contains(rest, "/"):
		switch r.Method {
		case http.MethodGet:
			d, ok := s.devices.Get(rest)
			if !ok {
				writeError(w, http.StatusNotFound, "unknown device")
				return
			}
			writeJSON(w, http.StatusOK, d)
		case http.MethodDelete:
			if !s.devices.Remove(rest) {
				writeError(w, http.StatusNotFound, "unknown device")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type personRequest struct {
	Name     string            `json:"name"`
	Grants   []model.RoomGrant `json:"grants"`
	ImageRef string            `json:"imageRef"`
}

func (s *Server) handlePersons(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.persons.List()
		writeJSON(w, http.StatusOK, map[string]any{
			"persons": list,
			"count":   len(list),
		})
	case http.MethodPost:
		var req personRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		p := s.persons.Create(req.Name, req.Grants)
		if s.logger != nil {
			s.logger.Info("person created", "person", p.ID)
		}
		s.enrollPerson(r.Context(), p, req.ImageRef)
		writeJSON(w, http.StatusOK, p)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePerson(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/persons/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		p, ok := s.persons.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown person")
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPut:
		var req personRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, ok := s.persons.Update(id, req.Name, req.Grants)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown person")
			return
		}
		s.enrollPerson(r.Context(), p, req.ImageRef)
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if !s.persons.Delete(id) {
			writeError(w, http.StatusNotFound, "unknown person")
			return
		}
		if s.doors != nil {
			if err := s.doors.RemovePerson(r.Context(), id); err != nil && s.logger != nil {
				s.logger.Warn("device unenrollment failed", "person", id, "err", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/rooms/")
	switch {
	case strings.HasSuffix(rest, "/allowed"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		roomID := strings.TrimSuffix(rest, "/allowed")
		at := time.Now().UTC()
		if v := r.URL.Query().Get("at"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid at timestamp")
				return
			}
			at = ts
		}
		list := s.persons.AllowedAt(roomID, at)
		writeJSON(w, http.StatusOK, map[string]any{
			"room_id": roomID,
			"at":      at.Format(time.RFC3339),
			"persons": list,
			"count":   len(list),
		})
	case strings.HasSuffix(rest, "/unlock"):
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.doors == nil {
			writeError(w, http.StatusServiceUnavailable, "device control not configured")
			return
		}
		roomID := strings.TrimSuffix(rest, "/unlock")
		if err := s.doors.Unlock(r.Context(), roomID); err != nil {
			if s.logger != nil {
				s.logger.Error("remote unlock failed", "room", roomID, "err", err)
			}
			writeError(w, http.StatusBadGateway, "unlock failed")
			return
		}
		if s.logger != nil {
			s.logger.Info("remote unlock", "room", roomID)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := s.notices.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": list,
		"count":         len(list),
	})
}

func (s *Server) handleNotificationAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tag := strings.TrimPrefix(r.URL.Path, "/notifications/")
	if tag == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !s.notices.Dismiss(tag) {
		writeError(w, http.StatusNotFound, "unknown notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.clearLogs()
		s.clearIncidents()
		s.clearNotices()
		s.clearOccupancy()
	case "logs":
		s.clearLogs()
	case "incidents":
		s.clearIncidents()
	case "notifications":
		s.clearNotices()
	case "occupancy":
		s.clearOccupancy()
	default:
		writeError(w, http.StatusBadRequest, "unknown clear target")
		return
	}
	if s.logger != nil {
		s.logger.Info("stores cleared", "target", target)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if changed, err := s.cfg.NeedsReload(); err == nil && changed {
		if _, err := s.cfg.Reload(); err != nil {
			if s.logger != nil {
				s.logger.Error("config reload failed", "err", err)
			}
			writeError(w, http.StatusInternalServerError, "config reload failed")
			return
		}
	}
	if s.engine != nil {
		s.engine.UpdateConfig(s.cfg.Get())
		s.engine.Reset()
	}
	if s.monitor != nil {
		s.monitor.Reset()
	}
	if s.logger != nil {
		s.logger.Info("engine restarted")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// enrollPerson mirrors a person to the recognition devices. Best effort:
// the registry write already succeeded, a gateway outage only delays the
// devices until the next save.
func (s *Server) enrollPerson(ctx context.Context, p model.Person, imageRef string) {
	if s.doors == nil {
		return
	}
	if err := s.doors.RegisterPerson(ctx, p, imageRef); err != nil && s.logger != nil {
		s.logger.Warn("device enrollment failed", "person", p.ID, "err", err)
	}
}

func (s *Server) clearLogs() {
	if s.logs != nil {
		s.logs.Clear()
	}
}

func (s *Server) clearIncidents() {
	if s.incidents != nil {
		s.incidents.Clear()
	}
}

func (s *Server) clearNotices() {
	if s.notices != nil {
		s.notices.Clear()
	}
}

func (s *Server) clearOccupancy() {
	if s.occupancy != nil {
		s.occupancy.Clear()
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
