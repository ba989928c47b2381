package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/latticerun/dispatcher/pkg/models"
)

// submitResponse is returned immediately on POST /dispatches: the
// workflow keeps running on the shared worker pool after this response is
// sent (§6: run_workflow's caller does not block on the HTTP request).
type submitResponse struct {
	DispatchID string `json:"dispatch_id"`
}

// handleSubmit accepts a serialized lattice (§6's run_workflow(dispatch_id,
// serialized_lattice)) as the raw request body and kicks off the dispatch
// asynchronously, returning its dispatch_id right away.
func (s *Server) handleSubmit(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) == 0 {
		respondError(c, http.StatusBadRequest, "request body must be a serialized lattice")
		return
	}

	dispatchID := c.Query("dispatch_id")
	if dispatchID == "" {
		dispatchID = uuid.NewString()
	}

	go func(id string, lattice []byte) {
		ctx := context.Background()
		if _, err := s.dispatcher.RunWorkflow(ctx, id, lattice); err != nil {
			s.logger.Error("dispatch run failed", "dispatch_id", id, "error", err)
		}
	}(dispatchID, body)

	c.JSON(http.StatusAccepted, submitResponse{DispatchID: dispatchID})
}

// handleGet reads the dispatch's latest persisted Result (§6's implicit
// read path: the Dispatch Store is the durable source of truth once a
// dispatch has had at least one persistence write).
func (s *Server) handleGet(c *gin.Context) {
	dispatchID := c.Param("id")
	if s.store == nil {
		respondError(c, http.StatusServiceUnavailable, "dispatch store not configured")
		return
	}

	doc, err := s.store.Get(c.Request.Context(), dispatchID)
	if err != nil {
		if errors.Is(err, models.ErrDispatchNotFound) {
			respondError(c, http.StatusNotFound, "dispatch not found")
			return
		}
		s.logger.Error("failed to load dispatch", "dispatch_id", dispatchID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to load dispatch")
		return
	}

	c.JSON(http.StatusOK, doc)
}

// handleCancel forwards to the Dispatcher's cooperative cancel_workflow
// (§6); cancellation is best-effort and observed only between waves.
func (s *Server) handleCancel(c *gin.Context) {
	dispatchID := c.Param("id")
	s.dispatcher.CancelWorkflow(dispatchID)
	c.JSON(http.StatusAccepted, gin.H{"dispatch_id": dispatchID, "cancel_requested": true})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStream upgrades the connection to a websocket and registers it
// with the websocket Observer for broadcast of every Result mutation
// across all dispatches (the teacher's single shared broadcast hub; a
// per-dispatch filter could be layered on by wrapping Observer.Filter).
func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	s.ws.AddConn(conn)

	go func() {
		defer func() {
			s.ws.RemoveConn(conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
