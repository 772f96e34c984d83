// Package tickets builds jackpot tickets from probability sets and reports
// batch diagnostics.
package tickets

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/jackpotengine/internal/models"
	"github.com/rewired-gh/jackpotengine/internal/probset"
	"github.com/rewired-gh/jackpotengine/internal/scoring"
)

// FixtureInput is a fixture with its calibrated model triple and league weight.
type FixtureInput struct {
	Fixture      models.Fixture
	Corrected    models.Triple
	LeagueWeight float64
}

// Request describes one generation batch.
type Request struct {
	JackpotID     string
	Name          string
	Fixtures      []FixtureInput
	Keys          []probset.Key
	TicketsPerSet int
	Budget        decimal.Decimal
	Theta         float64
	K             int
}

// Options are the constructor limits.
type Options struct {
	MaxTicketsPerSet int `json:"max_tickets_per_set"`
	MinDrawPicks     int `json:"min_draw_picks"` // 0 leaves draw coverage advisory only
}

// DefaultOptions returns the production limits.
func DefaultOptions() Options {
	return Options{MaxTicketsPerSet: 50}
}

// GeneratedTicket is a ticket with its full score.
type GeneratedTicket struct {
	models.Ticket
	SetName string              `json:"set_name"`
	Score   scoring.TicketScore `json:"score"`
}

// Coverage is the pick distribution across every ticket in a batch.
type Coverage struct {
	Home    int     `json:"home"`
	Draw    int     `json:"draw"`
	Away    int     `json:"away"`
	HomePct float64 `json:"home_pct"`
	DrawPct float64 `json:"draw_pct"`
	AwayPct float64 `json:"away_pct"`
}

// Result is a generated batch.
type Result struct {
	Tickets        []GeneratedTicket `json:"tickets"`
	Coverage       Coverage          `json:"coverage"`
	Warnings       []string          `json:"warnings"`
	OverlapWarning bool              `json:"overlap_warning"`
	Budget         decimal.Decimal   `json:"budget"`
	CostPerTicket  decimal.Decimal   `json:"cost_per_ticket"`
}

// Constructor builds tickets; it holds no mutable state.
type Constructor struct {
	scorer *scoring.Scorer
	opts   Options
	now    func() time.Time
}

// New creates a constructor.
func New(scorer *scoring.Scorer, opts Options) *Constructor {
	if opts.MaxTicketsPerSet <= 0 {
		opts.MaxTicketsPerSet = DefaultOptions().MaxTicketsPerSet
	}
	return &Constructor{scorer: scorer, opts: opts, now: time.Now}
}

func (c *Constructor) validate(req *Request) error {
	if len(req.Fixtures) == 0 {
		return fmt.Errorf("%w: no fixtures to build tickets from", models.ErrValidation)
	}
	if len(req.Keys) == 0 {
		return fmt.Errorf("%w: at least one probability set is required", models.ErrValidation)
	}
	if req.TicketsPerSet == 0 {
		req.TicketsPerSet = 1
	}
	if req.TicketsPerSet < 0 || req.TicketsPerSet > c.opts.MaxTicketsPerSet {
		return fmt.Errorf("%w: tickets_per_set must be between 1 and %d", models.ErrValidation, c.opts.MaxTicketsPerSet)
	}
	if !req.Budget.IsPositive() {
		return fmt.Errorf("%w: budget must be positive", models.ErrValidation)
	}
	seenKey := make(map[probset.Key]bool, len(req.Keys))
	for _, k := range req.Keys {
		if k.Name() == "" {
			return fmt.Errorf("%w: unknown probability set %q", models.ErrValidation, k)
		}
		if seenKey[k] {
			return fmt.Errorf("%w: probability set %s requested twice", models.ErrValidation, k)
		}
		seenKey[k] = true
	}
	seen := make(map[string]bool, len(req.Fixtures))
	for i := range req.Fixtures {
		f := &req.Fixtures[i].Fixture
		if err := f.Validate(); err != nil {
			return err
		}
		if seen[f.ID] {
			return fmt.Errorf("%w: duplicate fixture %s", models.ErrValidation, f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// Generate builds TicketsPerSet tickets for every requested set. Sets are
// built concurrently; tickets come back in request order.
func (c *Constructor) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := c.validate(&req); err != nil {
		return nil, err
	}

	perSet := make([][]GeneratedTicket, len(req.Keys))
	created := c.now()
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range req.Keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tickets, err := c.buildSet(req, key, created)
			if err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
			perSet[i] = tickets
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Tickets: make([]GeneratedTicket, 0, len(req.Keys)*req.TicketsPerSet), Budget: req.Budget}
	for _, tickets := range perSet {
		res.Tickets = append(res.Tickets, tickets...)
	}
	res.Coverage = coverage(res.Tickets)
	res.Warnings, res.OverlapWarning = diagnose(res.Tickets, res.Coverage)
	res.CostPerTicket = req.Budget.DivRound(decimal.NewFromInt(int64(len(res.Tickets))), 2)
	return res, nil
}

func (c *Constructor) buildSet(req Request, key probset.Key, created time.Time) ([]GeneratedTicket, error) {
	n := len(req.Fixtures)
	probs := make([]models.Triple, n)
	for i, fi := range req.Fixtures {
		p, err := key.Apply(probset.Input{
			Model:        fi.Corrected,
			Odds:         fi.Fixture.Odds,
			XGDiff:       fi.Fixture.XGDiff,
			LeagueWeight: fi.LeagueWeight,
		})
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", fi.Fixture.ID, err)
		}
		probs[i] = p
	}

	base := make([]models.Outcome, n)
	for i, p := range probs {
		base[i] = p.Best()
	}
	order := leastDecisive(probs)

	out := make([]GeneratedTicket, 0, req.TicketsPerSet)
	for t := 0; t < req.TicketsPerSet; t++ {
		picks := append([]models.Outcome(nil), base...)
		if t > 0 {
			i := order[(t-1)%n]
			picks[i] = probs[i].Ranked()[1]
		}
		c.enforceDrawFloor(picks, probs)

		gt, err := c.assemble(req, key, picks, probs, created)
		if err != nil {
			return nil, err
		}
		out = append(out, gt)
	}
	return out, nil
}

// leastDecisive returns fixture indexes ordered by the gap between their best
// and second outcome, smallest first.
func leastDecisive(probs []models.Triple) []int {
	gaps := make([]float64, len(probs))
	order := make([]int, len(probs))
	for i, p := range probs {
		r := p.Ranked()
		gaps[i] = p.Get(r[0]) - p.Get(r[1])
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return gaps[order[a]] < gaps[order[b]] })
	return order
}

// enforceDrawFloor turns the most draw-likely non-draw picks into draws until
// MinDrawPicks is met.
func (c *Constructor) enforceDrawFloor(picks []models.Outcome, probs []models.Triple) {
	floor := c.opts.MinDrawPicks
	if floor <= 0 {
		return
	}
	if floor > len(picks) {
		floor = len(picks)
	}
	draws := 0
	var candidates []int
	for i, p := range picks {
		if p == models.OutcomeDraw {
			draws++
		} else {
			candidates = append(candidates, i)
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return probs[candidates[a]].Draw > probs[candidates[b]].Draw
	})
	for _, i := range candidates {
		if draws >= floor {
			break
		}
		picks[i] = models.OutcomeDraw
		draws++
	}
}

func (c *Constructor) assemble(req Request, key probset.Key, picks []models.Outcome, probs []models.Triple, created time.Time) (GeneratedTicket, error) {
	inputs := make([]scoring.PickInput, len(picks))
	ids := make([]string, len(picks))
	combinedOdds, combinedProb := 1.0, 1.0
	for i, fi := range req.Fixtures {
		inputs[i] = scoring.PickInput{
			Fixture:      fi.Fixture,
			Pick:         picks[i],
			Probs:        probs[i],
			LeagueWeight: fi.LeagueWeight,
		}
		ids[i] = fi.Fixture.ID
		combinedOdds *= fi.Fixture.Odds.Get(picks[i])
		combinedProb *= probs[i].Get(picks[i])
	}
	score, err := c.scorer.ScoreTicket(inputs, req.Theta, req.K)
	if err != nil {
		return GeneratedTicket{}, err
	}
	return GeneratedTicket{
		Ticket: models.Ticket{
			ID:                  uuid.NewString(),
			JackpotID:           req.JackpotID,
			SetKey:              string(key),
			Name:                req.Name,
			FixtureIDs:          ids,
			Picks:               picks,
			CombinedOdds:        combinedOdds,
			CombinedProbability: combinedProb,
			UDS:                 score.UDS,
			Contradictions:      score.Contradictions,
			Accepted:            score.Accepted,
			CreatedAt:           created,
		},
		SetName: key.Name(),
		Score:   score,
	}, nil
}
