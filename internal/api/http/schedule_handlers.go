package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mentora/engine/internal/shared/calendar"
	"github.com/mentora/engine/internal/shared/utils"
)

// RegenerateRequest asks for a rebuild of [From, From+Days).
type RegenerateRequest struct {
	From string `json:"from"`
	Days int    `json:"days"`
}

// Today returns the daily view for the current local date
func (h *Handlers) Today(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.DailyView(h.engine.Today()))
}

// Day returns the daily view for a YYYY-MM-DD date
func (h *Handlers) Day(c *gin.Context) {
	d, err := utils.ValidateDate(c.Param("date"), "date")
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.engine.DailyView(d))
}

// Week returns the weekly view containing the given date, or the
// current week when no date is given
func (h *Handlers) Week(c *gin.Context) {
	start := h.engine.Today()
	if raw := c.Param("start"); raw != "" {
		d, err := utils.ValidateDate(raw, "start")
		if err != nil {
			badRequest(c, err)
			return
		}
		start = d
	}
	c.JSON(http.StatusOK, h.engine.WeeklyView(start))
}

// Overflow lists tasks flagged for manual reallocation
func (h *Handlers) Overflow(c *gin.Context) {
	from, days, ok := h.window(c)
	if !ok {
		return
	}
	flagged := h.engine.Overflow(from, days)
	c.JSON(http.StatusOK, gin.H{
		"from":    from,
		"days":    days,
		"flagged": flagged,
		"count":   len(flagged),
	})
}

// Regenerate rebuilds a date range from the active blueprint
func (h *Handlers) Regenerate(c *gin.Context) {
	var req RegenerateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	from := h.engine.Today()
	if req.From != "" {
		d, err := utils.ValidateDate(req.From, "from")
		if err != nil {
			badRequest(c, err)
			return
		}
		from = d
	}
	if req.Days != 0 {
		if err := utils.ValidateRangeDays(req.Days); err != nil {
			badRequest(c, err)
			return
		}
	}

	report, err := h.engine.Regenerate(c.Request.Context(), from, req.Days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// window reads ?from=&days= with today and one week as defaults.
func (h *Handlers) window(c *gin.Context) (calendar.Date, int, bool) {
	from := h.engine.Today()
	if raw := c.Query("from"); raw != "" {
		d, err := utils.ValidateDate(raw, "from")
		if err != nil {
			badRequest(c, err)
			return calendar.Date{}, 0, false
		}
		from = d
	}
	days := 7
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err == nil {
			err = utils.ValidateRangeDays(n)
		}
		if err != nil {
			badRequest(c, err)
			return calendar.Date{}, 0, false
		}
		days = n
	}
	return from, days, true
}
