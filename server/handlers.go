package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/etnz/backtest"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

// Summary holds the metrics and totals of a run.
type Summary struct {
	Start       backtest.Date  `json:"start_date"`
	End         backtest.Date  `json:"end_date"`
	Initial     backtest.Money `json:"initial_value"`
	Final       backtest.Money `json:"final_value"`
	TotalReturn float64        `json:"total_return"`
	CAGR        float64        `json:"cagr"`
	Volatility  float64        `json:"volatility"`
	Sharpe      float64        `json:"sharpe_ratio"`
	MaxDrawdown float64        `json:"max_drawdown"`

	TotalWithdrawal      backtest.Money `json:"total_withdrawal"`
	TotalDividendGross   backtest.Money `json:"total_dividend_gross"`
	TotalDividendNet     backtest.Money `json:"total_dividend_net"`
	TotalDividendTax     backtest.Money `json:"total_dividend_tax"`
	TotalCapitalGainsTax backtest.Money `json:"total_capital_gains_tax"`
	TotalTax             backtest.Money `json:"total_tax"`
	TotalTransactionCost backtest.Money `json:"total_transaction_cost"`
}

func summarize(r *backtest.Result) Summary {
	return Summary{
		Start:                r.Config.Start,
		End:                  r.Config.End,
		Initial:              r.Initial,
		Final:                r.Final,
		TotalReturn:          r.TotalReturn,
		CAGR:                 r.CAGR,
		Volatility:           r.Volatility,
		Sharpe:               r.Sharpe,
		MaxDrawdown:          r.MaxDrawdown,
		TotalWithdrawal:      r.TotalWithdrawal,
		TotalDividendGross:   r.TotalDividendGross,
		TotalDividendNet:     r.TotalDividendNet,
		TotalDividendTax:     r.TotalDividendTax,
		TotalCapitalGainsTax: r.TotalCapitalGainsTax,
		TotalTax:             r.TotalTax,
		TotalTransactionCost: r.TotalTransactionCost,
	}
}

// History is the snapshot table of a run.
type History struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// BacktestResponse is the reply of POST /v1/backtests.
type BacktestResponse struct {
	ID      string               `json:"id"`
	Result  Summary              `json:"result"`
	Annual  []backtest.AnnualRow `json:"annual"`
	History History              `json:"history"`
}

// ComparisonRequest is the body of POST /v1/comparisons.
type ComparisonRequest struct {
	Base       backtest.Config            `json:"base"`
	Portfolios []backtest.NamedAllocation `json:"portfolios"`
}

// ComparisonResponse is the reply of POST /v1/comparisons.
type ComparisonResponse struct {
	ID         string                `json:"id"`
	Portfolios []PortfolioComparison `json:"portfolios"`
}

// PortfolioComparison is the outcome of one candidate.
type PortfolioComparison struct {
	Name   string               `json:"name"`
	Result Summary              `json:"result"`
	Annual []backtest.AnnualRow `json:"annual"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) runBacktest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cfg := backtest.DefaultConfig()
	if err := decode(w, r, &cfg); err != nil {
		s.fail(w, r, "run", start, err)
		return
	}
	if err := cfg.Allocation.Validate(); err != nil {
		s.fail(w, r, "run", start, err)
		return
	}
	res, err := s.engine.Run(r.Context(), cfg)
	if err != nil {
		s.fail(w, r, "run", start, err)
		return
	}
	s.metrics.ObserveRun("run", start, nil)

	header, rows := res.HistoryTable()
	writeJSON(w, http.StatusOK, BacktestResponse{
		ID:      RunID(r.Context()),
		Result:  summarize(res),
		Annual:  res.Annual(),
		History: History{Header: header, Rows: rows},
	})
}

func (s *Server) runComparison(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := ComparisonRequest{Base: backtest.DefaultConfig()}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, "compare", start, err)
		return
	}
	for _, p := range req.Portfolios {
		if err := p.Allocation.Validate(); err != nil {
			s.fail(w, r, "compare", start, fmt.Errorf("portfolio %q: %w", p.Name, err))
			return
		}
	}
	comparisons, err := backtest.Compare(r.Context(), s.engine, req.Base, req.Portfolios, s.parallelism)
	if err != nil {
		s.fail(w, r, "compare", start, err)
		return
	}
	s.metrics.ObserveRun("compare", start, nil)

	resp := ComparisonResponse{ID: RunID(r.Context())}
	for _, c := range comparisons {
		resp.Portfolios = append(resp.Portfolios, PortfolioComparison{
			Name:   c.Name,
			Result: summarize(c.Result),
			Annual: c.Result.Annual(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// badRequest marks body decoding errors.
var badRequest = errors.New("bad request")

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", badRequest, err)
	}
	return nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, kind string, start time.Time, err error) {
	s.metrics.ObserveRun(kind, start, err)
	status := StatusOf(err)
	ev := s.logger.Warn()
	if status == http.StatusInternalServerError {
		ev = s.logger.Error()
	}
	ev.Err(err).Str("run_id", RunID(r.Context())).Str("kind", kind).Msg("request failed")
	writeError(w, status, err)
}

// StatusOf maps err to an HTTP status code.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, badRequest), errors.Is(err, backtest.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, backtest.ErrDataUnavailable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
