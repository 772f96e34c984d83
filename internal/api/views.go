package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rewired-gh/jackpotengine/internal/engine"
	"github.com/rewired-gh/jackpotengine/internal/models"
	"github.com/rewired-gh/jackpotengine/internal/scoring"
	"github.com/rewired-gh/jackpotengine/internal/tickets"
)

// finite returns nil for values JSON cannot carry (-Inf UDS/PDV, NaN).
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

type pickView struct {
	scoring.PickScore
	PDV *float64 `json:"pdv"`
}

type scoreView struct {
	scoring.TicketScore
	UDS   *float64   `json:"uds"`
	Picks []pickView `json:"pdv_breakdown"`
}

func newScoreView(ts scoring.TicketScore) scoreView {
	v := scoreView{TicketScore: ts, UDS: finite(ts.UDS), Picks: make([]pickView, len(ts.Picks))}
	for i, p := range ts.Picks {
		v.Picks[i] = pickView{PickScore: p, PDV: finite(p.PDV)}
	}
	return v
}

type ticketView struct {
	models.Ticket
	UDS               *float64   `json:"uds"`
	HardContradiction bool       `json:"hard_contradiction"`
	SetName           string     `json:"set_name,omitempty"`
	Score             *scoreView `json:"score,omitempty"`
}

func newTicketView(t models.Ticket) ticketView {
	return ticketView{Ticket: t, UDS: finite(t.UDS), HardContradiction: math.IsInf(t.UDS, -1)}
}

func newGeneratedView(t tickets.GeneratedTicket) ticketView {
	v := newTicketView(t.Ticket)
	v.SetName = t.SetName
	score := newScoreView(t.Score)
	v.Score = &score
	return v
}

type generateView struct {
	Tickets        []ticketView     `json:"tickets"`
	Coverage       tickets.Coverage `json:"coverage"`
	Warnings       []string         `json:"warnings"`
	OverlapWarning bool             `json:"overlap_warning"`
	Budget         string           `json:"budget"`
	CostPerTicket  string           `json:"cost_per_ticket"`
	Threshold      models.Threshold `json:"threshold"`
	WeightsVersion string           `json:"weights_version"`
}

func newGenerateView(res *engine.GenerateResult) generateView {
	v := generateView{
		Tickets:        make([]ticketView, len(res.Tickets)),
		Coverage:       res.Coverage,
		Warnings:       res.Warnings,
		OverlapWarning: res.OverlapWarning,
		Budget:         res.Budget.StringFixed(2),
		CostPerTicket:  res.CostPerTicket.StringFixed(2),
		Threshold:      res.Threshold,
		WeightsVersion: res.WeightsVersion,
	}
	if v.Warnings == nil {
		v.Warnings = []string{}
	}
	for i, t := range res.Tickets {
		v.Tickets[i] = newGeneratedView(t)
	}
	return v
}

type activeView struct {
	CalibrationID string    `json:"calibration_id"`
	SamplesUsed   int       `json:"samples_used"`
	CreatedAt     time.Time `json:"created_at"`
	ValidFrom     time.Time `json:"valid_from"`
}

type errorView struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func statusFor(kind string) int {
	switch kind {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "insufficient_data":
		return http.StatusUnprocessableEntity
	case "conflict":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := models.Kind(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		log.Error("Request failed: %v", err)
	}
	writeJSON(w, status, errorView{Error: err.Error(), Kind: kind})
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: request body is required", models.ErrValidation)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", models.ErrValidation, err)
	}
	return nil
}
