package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/mtzanidakis/warroom/internal/agent"
	"github.com/mtzanidakis/warroom/internal/crew"
	"github.com/mtzanidakis/warroom/internal/incident"
	"github.com/mtzanidakis/warroom/internal/schedule"
	"github.com/mtzanidakis/warroom/internal/scheduler"
	"github.com/mtzanidakis/warroom/internal/store"
	"github.com/mtzanidakis/warroom/internal/topology"
)

// staleAfter marks a busy agent stalled when it has produced no event for
// this long.
const staleAfter = 5 * time.Minute

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Runs
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("POST /api/runs", s.createRun)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)

	// Roster
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.getAgent)
	mux.HandleFunc("GET /api/capabilities", s.listCapabilities)
	mux.HandleFunc("GET /api/topology", s.getTopology)

	// Drills
	mux.HandleFunc("GET /api/drills", s.listDrills)
	mux.HandleFunc("POST /api/drills", s.createDrill)
	mux.HandleFunc("PUT /api/drills/{id}", s.updateDrill)
	mux.HandleFunc("DELETE /api/drills/{id}", s.deleteDrill)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)

	// System
	mux.HandleFunc("GET /api/events", s.listEvents)
	mux.HandleFunc("GET /api/status", s.getStatus)
}

type runRequest struct {
	Incident      string `json:"incident"`
	SafeMode      *bool  `json:"safe_mode"`
	SurvivalMode  *bool  `json:"survival_mode"`
	MemoryEnabled *bool  `json:"memory_enabled"`
}

// flags overlays the request's switches on the configured defaults.
func (b runRequest) flags(def topology.Flags) topology.Flags {
	f := def
	if b.SafeMode != nil {
		f.SafeMode = *b.SafeMode
	}
	if b.SurvivalMode != nil {
		f.SurvivalMode = *b.SurvivalMode
	}
	if b.MemoryEnabled != nil {
		f.MemoryEnabled = *b.MemoryEnabled
	}
	return f
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	jsonResponse(w, runs)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	flags := body.flags(s.svc.DefaultFlags())

	id, err := s.svc.Start(incident.Request{
		Incident: body.Incident,
		Source:   incident.SourceWeb,
		Flags:    flags,
	})
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, crew.ErrConfiguration) {
			code = http.StatusBadRequest
		}
		jsonError(w, err.Error(), code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": id, "mode": flags.Mode()})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	items, err := s.store.GetRunItems(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	events, err := s.store.GetRunEvents(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []store.RunItem{}
	}
	if events == nil {
		events = []store.RunEvent{}
	}
	jsonResponse(w, map[string]any{"run": run, "items": items, "events": events})
}

// deleteRun cancels a run in flight, or removes a finished one.
func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.svc.Cancel(id) {
		jsonResponse(w, map[string]string{"status": "cancelled"})
		return
	}
	if err := s.store.DeleteRun(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

// agentStatus is idle, busy, or stalled when a busy agent has produced no
// event for staleAfter.
func (s *Server) agentStatus(id string, stale []string) (string, *agent.Activity) {
	a := s.svc.Tracker().Get(id)
	switch {
	case a == nil:
		return "idle", nil
	case slices.Contains(stale, id):
		return "stalled", a
	default:
		return "busy", a
	}
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	stale := s.svc.Tracker().ListStale(staleAfter)
	roster := s.svc.Roster().List()
	out := make([]map[string]any, 0, len(roster))
	for _, d := range roster {
		entry := map[string]any{
			"id":           d.ID(),
			"role":         d.Role(),
			"objective":    d.Objective(),
			"backstory":    d.Backstory(),
			"can_delegate": d.CanDelegate(),
			"rate_limit":   d.RateLimit(),
			"capabilities": d.CapabilityNames(),
		}
		status, activity := s.agentStatus(d.ID(), stale)
		entry["status"] = status
		if activity != nil {
			entry["activity"] = activity
		}
		out = append(out, entry)
	}
	jsonResponse(w, out)
}

// getAgent returns the persisted roster row with the agent's live status.
func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.store.GetAgent(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if a == nil {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	status, activity := s.agentStatus(id, s.svc.Tracker().ListStale(staleAfter))
	jsonResponse(w, map[string]any{
		"agent":    a,
		"status":   status,
		"activity": activity,
	})
}

func (s *Server) listCapabilities(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.svc.Roster().Capabilities().Describe())
}

// getTopology previews the work item graph a mode would run.
func (s *Server) getTopology(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	flags := s.svc.DefaultFlags()
	switch q.Get("mode") {
	case "":
	case topology.ModeNormal:
		flags.SafeMode, flags.SurvivalMode = false, false
	case topology.ModeSafe:
		flags.SafeMode, flags.SurvivalMode = true, false
	case topology.ModeSurvival:
		flags.SurvivalMode = true
	default:
		jsonError(w, "unknown mode", http.StatusBadRequest)
		return
	}

	top, err := topology.NewSelector(s.svc.Roster(), false, nil).Select("preview", flags)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	g, err := crew.NewGraph(top.Items)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]any, 0, len(top.Items))
	for _, it := range top.Items {
		items = append(items, map[string]any{
			"key":        it.Key,
			"agent":      it.Agent.ID(),
			"depends_on": g.Dependencies(it.Key),
		})
	}
	jsonResponse(w, map[string]any{
		"mode":     top.Mode,
		"strategy": top.Strategy,
		"items":    items,
		"tiers":    g.Tiers(),
		"terminal": g.Terminal(),
	})
}

func (s *Server) listDrills(w http.ResponseWriter, r *http.Request) {
	drills, err := s.store.ListDrills()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(drills))
	for _, d := range drills {
		out = append(out, drillToAPI(d))
	}
	jsonResponse(w, out)
}

func (s *Server) createDrill(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name         string `json:"name"`
		Schedule     string `json:"schedule"`
		Incident     string `json:"incident"`
		SafeMode     bool   `json:"safe_mode"`
		SurvivalMode bool   `json:"survival_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	d, err := scheduler.NewDrill(body.Name, body.Schedule, body.Incident,
		topology.Flags{SafeMode: body.SafeMode, SurvivalMode: body.SurvivalMode})
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.SaveDrill(d); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, drillToAPI(*d))
}

func (s *Server) updateDrill(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetDrill(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "drill not found", http.StatusNotFound)
		return
	}

	var body struct {
		Name         *string `json:"name"`
		Schedule     *string `json:"schedule"`
		Incident     *string `json:"incident"`
		SafeMode     *bool   `json:"safe_mode"`
		SurvivalMode *bool   `json:"survival_mode"`
		Enabled      *bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Name != nil {
		existing.Name = *body.Name
	}
	if body.Incident != nil {
		existing.Incident = *body.Incident
	}
	if body.SafeMode != nil {
		existing.SafeMode = *body.SafeMode
	}
	if body.SurvivalMode != nil {
		existing.SurvivalMode = *body.SurvivalMode
	}
	if body.Schedule != nil {
		normalized, err := schedule.Normalize(*body.Schedule)
		if err != nil {
			jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
			return
		}
		existing.Schedule = normalized
	}
	if body.Enabled != nil {
		if *body.Enabled {
			existing.Status = scheduler.DrillActive
		} else if existing.Status != scheduler.DrillCompleted {
			existing.Status = scheduler.DrillPaused
		}
	}

	if existing.Status == scheduler.DrillActive {
		existing.NextRunAt = schedule.Next(existing.Schedule, time.Now())
	} else {
		existing.NextRunAt = nil
	}

	if err := s.store.SaveDrill(existing); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, drillToAPI(*existing))
}

func (s *Server) deleteDrill(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDrill(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func drillToAPI(d store.Drill) map[string]any {
	return map[string]any{
		"id":            d.ID,
		"name":          d.Name,
		"schedule":      d.Schedule,
		"schedule_text": schedule.Describe(d.Schedule),
		"incident":      d.Incident,
		"safe_mode":     d.SafeMode,
		"survival_mode": d.SurvivalMode,
		"status":        d.Status,
		"next_run_at":   d.NextRunAt,
		"last_run_at":   d.LastRunAt,
		"last_status":   d.LastStatus,
		"last_error":    d.LastError,
		"last_run_id":   d.LastRunID,
	}
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.store.GetRecentEvents(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []store.RunEvent{}
	}
	jsonResponse(w, events)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	identity, configured, reason := s.svc.Backend()
	runStats, _ := s.store.RunStats()
	drills, _ := s.store.ListDrills()
	agents, _ := s.store.ListAgents()

	activeDrills := 0
	for _, d := range drills {
		if d.Status == scheduler.DrillActive {
			activeDrills++
		}
	}
	active := s.svc.Active()
	slices.Sort(active)

	status := map[string]any{
		"status": "ok",
		"backend": map[string]any{
			"configured": configured,
			"identity":   identity,
			"reason":     reason,
		},
		"modes":         s.svc.DefaultFlags(),
		"active_runs":   active,
		"runs":          runStats,
		"active_drills": activeDrills,
		"agents":        len(agents),
		"ws_clients":    s.hub.Len(),
		"uptime":        formatUptime(time.Since(s.startedAt)),
		"timestamp":     time.Now().UTC(),
		"version":       s.version,
	}
	if s.bus != nil {
		status["nats_clients"] = s.bus.NumClients()
	}
	jsonResponse(w, status)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
