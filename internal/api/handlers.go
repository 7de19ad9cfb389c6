package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roach88/answersync/internal/answer"
	"github.com/roach88/answersync/internal/submission"
)

type syncResponse struct {
	Succeeded int `json:"succeeded"`
	Remaining int `json:"remaining"`
}

type statusResponse struct {
	Network        answer.NetworkStatus `json:"network"`
	Pending        int                  `json:"pending"`
	SyncInProgress bool                 `json:"sync_in_progress"`
}

// qualityRequest is the optional body of POST /v1/network/:state.
type qualityRequest struct {
	EffectiveType string  `json:"effective_type"`
	Downlink      float64 `json:"downlink"`
	RTTMillis     int64   `json:"rtt_ms"`
}

func (s *Server) submitAnswer(c *gin.Context) {
	var req answer.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	res, err := s.svc.SubmitAnswer(c.Request.Context(), req)
	if err != nil {
		var re *submission.RequestError
		if errors.As(err, &re) {
			badRequest(c, re.Error())
			return
		}
		s.log.Error("submit answer", zap.Error(err))
		internalError(c)
		return
	}
	success(c, res)
}

func (s *Server) listAnswers(c *gin.Context) {
	answers, err := s.svc.GetCachedAnswers(c.Request.Context())
	if err != nil {
		s.log.Error("list cached answers", zap.Error(err))
		internalError(c)
		return
	}
	success(c, answers)
}

func (s *Server) getAnswer(c *gin.Context) {
	key := answer.Key{ElementID: c.Param("element_id"), LessonID: c.Param("lesson_id")}
	rec, ok, err := s.svc.GetCachedAnswer(c.Request.Context(), key)
	if err != nil {
		s.log.Error("get cached answer", zap.String("key", key.String()), zap.Error(err))
		internalError(c)
		return
	}
	if !ok {
		notFound(c)
		return
	}
	success(c, rec)
}

func (s *Server) clearAnswers(c *gin.Context) {
	if err := s.svc.ClearCache(c.Request.Context()); err != nil {
		s.log.Error("clear cache", zap.Error(err))
		internalError(c)
		return
	}
	success(c, gin.H{"cleared": true})
}

func (s *Server) sync(c *gin.Context) {
	ctx := c.Request.Context()
	succeeded := s.svc.RetryFailedSubmissions(ctx)
	remaining, err := s.svc.GetPendingCount(ctx)
	if err != nil {
		s.log.Error("count pending answers", zap.Error(err))
		internalError(c)
		return
	}
	success(c, syncResponse{Succeeded: succeeded, Remaining: remaining})
}

func (s *Server) status(c *gin.Context) {
	pending, err := s.svc.GetPendingCount(c.Request.Context())
	if err != nil {
		s.log.Error("count pending answers", zap.Error(err))
		internalError(c)
		return
	}
	success(c, statusResponse{
		Network:        s.svc.GetNetworkStatus(),
		Pending:        pending,
		SyncInProgress: s.svc.SyncInProgress(),
	})
}

func (s *Server) network(c *gin.Context) {
	kind, err := submission.ParseSignalKind(c.Param("state"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	var q qualityRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&q); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	sig := submission.Signal{
		Kind:          kind,
		EffectiveType: q.EffectiveType,
		Downlink:      q.Downlink,
		RTT:           time.Duration(q.RTTMillis) * time.Millisecond,
	}
	if !s.svc.Signal(sig) {
		fail(c, http.StatusServiceUnavailable, "coordinator stopped")
		return
	}
	accepted(c, gin.H{"signal": kind.String()})
}
