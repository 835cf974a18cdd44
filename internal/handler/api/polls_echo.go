package api

import (
	"PollPulse/internal/domain/models"
	"PollPulse/internal/service/ratelimit"
	"PollPulse/internal/usecase"
	xhttp "PollPulse/pkg/http"
	xlogger "PollPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// VoterHeader names the request header carrying a stable voter identity.
const VoterHeader = "X-Voter-ID"

// PollsEchoHandler serves poll CRUD, stats and vote submission.
type PollsEchoHandler struct {
	logger  *xlogger.Logger
	svc     *usecase.PollService
	limiter *ratelimit.Limiter
}

// NewPollsEchoHandler creates the handler; a nil limiter disables throttling.
func NewPollsEchoHandler(logger *xlogger.Logger, svc *usecase.PollService, limiter *ratelimit.Limiter) *PollsEchoHandler {
	return &PollsEchoHandler{logger: logger, svc: svc, limiter: limiter}
}

func (h *PollsEchoHandler) RegisterRoutes(g *echo.Group) {
	pg := g.Group("/polls")
	pg.GET("", h.List)
	pg.POST("", h.Create)
	pg.GET("/:id", h.Get)
	pg.PUT("/:id", h.Update)
	pg.DELETE("/:id", h.Delete)
	pg.GET("/:id/stats", h.Stats)
	pg.POST("/:id/submit", h.Submit)
}

func pollIDParam(c echo.Context) (models.PollID, error) {
	return models.ParsePollID(c.Param("id"))
}

// voterKey identifies the voter: the X-Voter-ID header, else the client IP.
func voterKey(c echo.Context) string {
	if v := c.Request().Header.Get(VoterHeader); v != "" {
		return v
	}
	return c.RealIP()
}

func (h *PollsEchoHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if ae, ok := appErr.(*xhttp.AppError); ok && ae.Status >= 500 {
		h.logger.Error("poll handler error", xlogger.String("op", op), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func (h *PollsEchoHandler) List(c echo.Context) error {
	req := &models.ListPollsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	polls, err := h.svc.ListPolls(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "list", err)
	}
	return xhttp.SuccessResponse(c, polls)
}

func (h *PollsEchoHandler) Create(c echo.Context) error {
	req := &models.CreatePollRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.svc.CreatePoll(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "create", err)
	}
	return xhttp.CreatedResponse(c, p)
}

func (h *PollsEchoHandler) Get(c echo.Context) error {
	id, err := pollIDParam(c)
	if err != nil {
		return h.fail(c, "get", models.ErrInvalidPollID)
	}
	p, err := h.svc.GetPoll(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "get", err)
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *PollsEchoHandler) Update(c echo.Context) error {
	id, err := pollIDParam(c)
	if err != nil {
		return h.fail(c, "update", models.ErrInvalidPollID)
	}
	req := &models.UpdatePollRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.svc.UpdatePoll(c.Request().Context(), id, req)
	if err != nil {
		return h.fail(c, "update", err)
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *PollsEchoHandler) Delete(c echo.Context) error {
	id, err := pollIDParam(c)
	if err != nil {
		return h.fail(c, "delete", models.ErrInvalidPollID)
	}
	if err := h.svc.DeletePoll(c.Request().Context(), id); err != nil {
		return h.fail(c, "delete", err)
	}
	return xhttp.MessageResponse(c, "Poll deleted", nil)
}

func (h *PollsEchoHandler) Stats(c echo.Context) error {
	id, err := pollIDParam(c)
	if err != nil {
		return h.fail(c, "stats", models.ErrInvalidPollID)
	}
	s, err := h.svc.Stats(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "stats", err)
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *PollsEchoHandler) Submit(c echo.Context) error {
	id, err := pollIDParam(c)
	if err != nil {
		return h.fail(c, "submit", models.ErrInvalidPollID)
	}
	voter := voterKey(c)
	if h.limiter != nil && !h.limiter.Allow(voter) {
		return xhttp.AppErrorResponse(c, errRateLimited)
	}

	req := &models.SubmitVoteRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.svc.SubmitVote(c.Request().Context(), id, req.OptionIDs, voter)
	if err != nil {
		return h.fail(c, "submit", err)
	}
	return xhttp.MessageResponse(c, "Vote submitted", s)
}
