package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"vigil/internal/history"
)

// listHistory returns stored entries newest first. Query parameters: start
// and end (RFC 3339 or YYYY-MM-DD), label, limit, offset.
func (a *API) listHistory(c *gin.Context) {
	f := history.Filter{Label: c.Query("label")}

	var err error
	if f.From, err = parseTime(c.Query("start"), false); err != nil {
		fail(c, http.StatusBadRequest, "invalid start time")
		return
	}
	if f.To, err = parseTime(c.Query("end"), true); err != nil {
		fail(c, http.StatusBadRequest, "invalid end time")
		return
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, total, err := a.store.List(c.Request.Context(), f)
	if err != nil {
		a.logger.Error("list history", "err", err)
		fail(c, http.StatusInternalServerError, "history query failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (a *API) historyStats(c *gin.Context) {
	stats, err := a.store.Stats(c.Request.Context())
	if err != nil {
		a.logger.Error("history stats", "err", err)
		fail(c, http.StatusInternalServerError, "stats query failed")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// exportHistory streams the whole history as an Excel workbook. The store
// caps one page, so the export pages through offsets until every entry is in;
// any page failure aborts the whole export.
func (a *API) exportHistory(c *gin.Context) {
	var entries []*history.Entry
	for offset := 0; ; offset += history.MaxListLimit {
		page, total, err := a.store.List(c.Request.Context(), history.Filter{
			Limit:  history.MaxListLimit,
			Offset: offset,
		})
		if err != nil {
			a.logger.Error("export history", "err", err)
			fail(c, http.StatusInternalServerError, "history export failed")
			return
		}
		entries = append(entries, page...)
		if len(page) < history.MaxListLimit || len(entries) >= total {
			break
		}
	}
	stats, err := a.store.Stats(c.Request.Context())
	if err != nil {
		a.logger.Error("export history", "err", err)
		fail(c, http.StatusInternalServerError, "history export failed")
		return
	}

	artifact, err := a.exporter.RenderHistoryXLSX(entries, stats)
	if err != nil {
		a.logger.Error("export history", "err", err)
		fail(c, http.StatusInternalServerError, "history export failed")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}

// parseTime accepts RFC 3339 timestamps or bare dates; bare end dates extend
// to the end of the day so a single-day range covers the whole day.
func parseTime(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}
