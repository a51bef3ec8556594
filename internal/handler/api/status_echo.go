package api

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"OIWatch/internal/domain/models"
	"OIWatch/internal/service/ratelimit"
	"OIWatch/internal/usecase"
	xhttp "OIWatch/pkg/http"
	xlogger "OIWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

// CycleView exposes scheduler state to the status API.
type CycleView interface {
	State() *usecase.BootstrapState
	LastReport() (usecase.CycleReport, bool)
}

// ScoreView exposes the alert pipeline to the status API.
type ScoreView interface {
	Latest() []models.Score
	ScoreSymbol(ctx context.Context, symbol string, notify bool) (models.Score, error)
}

type StatusResponse struct {
	Environment  string                `json:"environment"`
	Uptime       string                `json:"uptime"`
	Bootstrapped []usecase.SymbolState `json:"bootstrapped"`
	LastCycle    *usecase.CycleReport  `json:"last_cycle,omitempty"`
	Scores       []models.Score        `json:"scores"`
}

// StatusEchoHandler serves health, status and scoring endpoints.
type StatusEchoHandler struct {
	logger  *xlogger.Logger
	cycles  CycleView
	scores  ScoreView
	limiter *ratelimit.Limiter
	env     string
	started time.Time
}

// NewStatusEchoHandler builds the handler. scores may be nil when alerting is disabled.
func NewStatusEchoHandler(logger *xlogger.Logger, cycles CycleView, scores ScoreView, limiter *ratelimit.Limiter, env string) *StatusEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &StatusEchoHandler{
		logger:  logger,
		cycles:  cycles,
		scores:  scores,
		limiter: limiter,
		env:     env,
		started: time.Now(),
	}
}

func (h *StatusEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/scores", h.Scores)
	g.POST("/score", h.Score)
}

func (h *StatusEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *StatusEchoHandler) Status(c echo.Context) error {
	res := StatusResponse{
		Environment:  h.env,
		Uptime:       time.Since(h.started).Truncate(time.Second).String(),
		Bootstrapped: []usecase.SymbolState{},
		Scores:       []models.Score{},
	}
	if h.cycles != nil {
		res.Bootstrapped = h.cycles.State().Snapshot()
		if rep, ok := h.cycles.LastReport(); ok {
			res.LastCycle = &rep
		}
	}
	if h.scores != nil {
		res.Scores = h.scores.Latest()
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *StatusEchoHandler) Scores(c echo.Context) error {
	req := &models.ScoresRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.scores == nil {
		return xhttp.ListResponse(c, []models.Score{}, 0)
	}

	all := h.scores.Latest()
	rows := make([]models.Score, 0, len(all))
	for _, s := range all {
		if req.Symbol != "" && s.Symbol != req.Symbol {
			continue
		}
		if s.Value < req.Min {
			continue
		}
		rows = append(rows, s)
	}
	total := int64(len(rows))
	if len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}
	return xhttp.ListResponse(c, rows, total)
}

func (h *StatusEchoHandler) Score(c echo.Context) error {
	if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("score rate limit exceeded"))
	}
	req := &models.ScoreRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.scores == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("scoring is disabled"))
	}

	score, err := h.scores.ScoreSymbol(c.Request().Context(), req.Symbol, req.Notify)
	switch {
	case err == nil:
		return xhttp.SuccessResponse(c, score)
	case errors.Is(err, fs.ErrNotExist):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no store for %s", req.Symbol))
	case errors.Is(err, models.ErrNotEnoughHistory), errors.Is(err, models.ErrMalformedWindow):
		return xhttp.AppErrorResponse(c, xhttp.UnprocessableError(err.Error()))
	case errors.Is(err, models.ErrScorer):
		h.logger.Error("on-demand score failed", xlogger.Symbol(req.Symbol), xlogger.Category(models.CategoryScorer), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadGatewayError("reconstruction service failed"))
	default:
		h.logger.Error("on-demand score failed", xlogger.Symbol(req.Symbol), xlogger.Category(models.Categorize(err)), xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
}
