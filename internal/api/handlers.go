package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rewired-gh/jackpotengine/internal/calibration"
	"github.com/rewired-gh/jackpotengine/internal/engine"
	"github.com/rewired-gh/jackpotengine/internal/models"
	"github.com/rewired-gh/jackpotengine/internal/threshold"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok", "time": time.Now().Unix()}
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["storage"] = err.Error()
		}
	}
	writeJSON(w, status, body)
}

type fitRequest struct {
	ModelVersion string `json:"model_version"`
	League       string `json:"league"`
	MinSamples   int    `json:"min_samples"`
	Async        bool   `json:"async"`
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	var req fitRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	opts := calibration.FitOptions{ModelVersion: req.ModelVersion, League: req.League, MinSamples: req.MinSamples}
	if req.Async {
		task, err := s.engine.FitAsync(r.Context(), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"task": task})
		return
	}
	res, err := s.engine.Fit(r.Context(), opts, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type activateRequest struct {
	CalibrationID string `json:"calibration_id"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	curve, err := s.engine.Activate(r.Context(), req.CalibrationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "calibration": curve})
}

func (s *Server) handleGetActive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	active, err := s.engine.GetActive(r.Context(), q.Get("model_version"), q.Get("league"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make(map[models.Outcome]activeView, len(active))
	for o, c := range active {
		out[o] = activeView{CalibrationID: c.ID, SamplesUsed: c.SamplesUsed, CreatedAt: c.CreatedAt, ValidFrom: c.ValidFrom}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calibrations": out})
}

func (s *Server) handleCurves(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	curves, err := s.engine.History(r.Context(), q.Get("model_version"), q.Get("league"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"curves": curves})
}

type jackpotRequest struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	ModelVersion string           `json:"model_version"`
	Fixtures     []models.Fixture `json:"fixtures"`
}

func (s *Server) handleSaveJackpot(w http.ResponseWriter, r *http.Request) {
	var req jackpotRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	j := &models.Jackpot{ID: req.ID, Name: req.Name, Fixtures: req.Fixtures}
	if err := s.engine.SaveJackpot(r.Context(), j, req.ModelVersion); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"jackpot": j})
}

func (s *Server) handleGetJackpot(w http.ResponseWriter, r *http.Request) {
	j, err := s.engine.GetJackpot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jackpot": j})
}

func (s *Server) handleSyncJackpot(w http.ResponseWriter, r *http.Request) {
	j, err := s.engine.SyncJackpot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jackpot": j})
}

type resultsRequest struct {
	Results map[string]string `json:"results"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	var req resultsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	results := make(map[string]models.Outcome, len(req.Results))
	for id, raw := range req.Results {
		o, err := models.ParseOutcome(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		results[id] = o
	}
	summary, err := s.engine.RecordResults(r.Context(), mux.Vars(r)["id"], results)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req engine.GenerateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.engine.GenerateTickets(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newGenerateView(res))
}

type scoreRequest struct {
	Fixtures     []models.Fixture `json:"fixtures"`
	Picks        []string         `json:"picks"`
	Theta        *float64         `json:"theta"`
	K            *int             `json:"k"`
	ModelVersion string           `json:"model_version"`
	Profile      string           `json:"profile"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	picks := make([]models.Outcome, len(req.Picks))
	for i, raw := range req.Picks {
		o, err := models.ParseOutcome(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		picks[i] = o
	}
	score, err := s.engine.ScoreTicket(r.Context(), engine.ScoreRequest{
		Fixtures:     req.Fixtures,
		Picks:        picks,
		Theta:        req.Theta,
		K:            req.K,
		ModelVersion: req.ModelVersion,
		Profile:      req.Profile,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newScoreView(*score))
}

func (s *Server) handleSavedTickets(w http.ResponseWriter, r *http.Request) {
	saved, err := s.engine.SavedTickets(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]ticketView, len(saved))
	for i, t := range saved {
		out[i] = newTicketView(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": out})
}

type learnRequest struct {
	Profile string    `json:"profile"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Async   bool      `json:"async"`
}

func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	var req learnRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	lr := threshold.LearnRequest{Profile: req.Profile, From: req.From, To: req.To}
	if req.Async {
		task, err := s.engine.LearnThresholdsAsync(r.Context(), lr)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"task": task})
		return
	}
	res, err := s.engine.LearnThresholds(r.Context(), lr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCurrentThreshold(w http.ResponseWriter, r *http.Request) {
	th, err := s.engine.CurrentThreshold(r.Context(), r.URL.Query().Get("profile"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threshold": th, "learned": th.ID != ""})
}

func (s *Server) handleThresholdHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.engine.ThresholdHistory(r.Context(), r.URL.Query().Get("profile"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thresholds": history})
}

type weightsRequest struct {
	Profile      string `json:"profile"`
	ModelVersion string `json:"model_version"`
}

func (s *Server) handleLearnWeights(w http.ResponseWriter, r *http.Request) {
	var req weightsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	weights, report, err := s.engine.LearnWeights(r.Context(), req.Profile, req.ModelVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"weights": weights, "leagues": report})
}

func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	weights, err := s.engine.LeagueWeights(r.Context(), r.URL.Query().Get("profile"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"weights": weights})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.Task(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}
