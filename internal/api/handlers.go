package api

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tiliavir/timesync/internal/export"
	"github.com/Tiliavir/timesync/internal/gapfill"
	"github.com/Tiliavir/timesync/internal/storage"
	"github.com/Tiliavir/timesync/internal/timecalc"
)

type reconcileRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) reconcile(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}

	var from, to time.Time
	if req.From == "" {
		from, to = timecalc.WeekRange(time.Now())
	} else {
		var err error
		if from, to, err = timecalc.ParseRange(req.From, req.To); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}

	res, err := s.sess.Reconcile(c.Request.Context(), from, to)
	if err != nil {
		s.log.Error("reconciliation failed", zap.Error(err))
		fail(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

func (s *Server) result(c *gin.Context) {
	res, err := s.sess.Snapshot()
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

func (s *Server) missingCSV(c *gin.Context) {
	res, err := s.sess.Snapshot()
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, res.MissingInLedger); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(res.From, res.To)+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

type createRequest struct {
	ContextURL string `json:"contextUrl"`
}

type createdEntry struct {
	Key          string `json:"key"`
	TimeEntryID  int    `json:"timeEntryId,omitempty"`
	IssueID      int    `json:"issueId,omitempty"`
	IssueCreated bool   `json:"issueCreated"`
	Error        string `json:"error,omitempty"`
}

func toCreated(r gapfill.CreatedEntry) createdEntry {
	out := createdEntry{
		Key:          r.Entry.Key(),
		TimeEntryID:  r.TimeEntryID,
		IssueID:      r.IssueID,
		IssueCreated: r.IssueCreated,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func bindCreate(c *gin.Context) (createRequest, bool) {
	var req createRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err)
			return req, false
		}
	}
	return req, true
}

func (s *Server) createAll(c *gin.Context) {
	req, ok := bindCreate(c)
	if !ok {
		return
	}
	results, err := s.sess.CreateAll(c.Request.Context(), req.ContextURL)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	entries := make([]createdEntry, 0, len(results))
	for _, r := range results {
		entries = append(entries, toCreated(r))
	}
	summary := gapfill.Summarize(results)
	c.JSON(http.StatusOK, gin.H{
		"success": summary.Failed == 0,
		"summary": summary,
		"entries": entries,
	})
}

func (s *Server) createOne(c *gin.Context) {
	req, ok := bindCreate(c)
	if !ok {
		return
	}
	r, err := s.sess.CreateOne(c.Request.Context(), c.Param("key"), req.ContextURL)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	if r.Err != nil {
		status := http.StatusBadGateway
		if errors.Is(r.Err, gapfill.ErrNotPending) {
			status = http.StatusNotFound
		}
		fail(c, status, r.Err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entry": toCreated(r)})
}

func (s *Server) listMappings(c *gin.Context) {
	mf, err := storage.LoadMappings(s.base)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "mappings": mf.Mappings})
}

type mappingRequest struct {
	JiraURLPrefix    string `json:"jiraUrlPrefix" binding:"required"`
	RedmineProjectID int    `json:"redmineProjectId" binding:"required,gt=0"`
	Description      string `json:"description"`
}

func (s *Server) addMapping(c *gin.Context) {
	var req mappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	m, err := storage.AddMapping(s.base, req.JiraURLPrefix, req.RedmineProjectID, req.Description)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "mapping": m})
}

func (s *Server) removeMapping(c *gin.Context) {
	if err := storage.RemoveMapping(s.base, c.Param("id")); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) resolveMapping(c *gin.Context) {
	pid, ok := s.projects.Resolve(c.Query("url"))
	resp := gin.H{"success": true, "found": ok}
	if ok {
		resp["projectId"] = pid
	}
	c.JSON(http.StatusOK, resp)
}
