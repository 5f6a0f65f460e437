package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"termsai/backend/internal/filter"
	"termsai/backend/internal/model"
	"termsai/backend/internal/store"
	"termsai/backend/internal/workflow"
	apperrors "termsai/backend/pkg/errors"
)

// userCookieMaxAge keeps a minted user id for one year
const userCookieMaxAge = 365 * 24 * 60 * 60

type server struct {
	store  *store.Store
	filter *filter.Filter
	orch   *workflow.Orchestrator
	logger *zap.Logger
}

func setupRouter(s *server) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(s.logger))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.Use(s.ensureUserID)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/generate_stream", s.generateStream)
	router.POST("/feedback", s.feedback)
	router.POST("/add_concept", s.addConcept)
	router.POST("/search_graph", s.searchGraph)
	router.GET("/get_graph", s.getGraph)
	router.GET("/default_graph", s.defaultGraph)
	router.POST("/check_filter", s.checkFilter)

	return router
}

// ensureUserID mints a user id cookie for first-time visitors
func (s *server) ensureUserID(c *gin.Context) {
	if _, err := c.Cookie("user_id"); err != nil {
		c.SetCookie("user_id", uuid.New().String(), userCookieMaxAge, "/", "", true, true)
	}
	c.Next()
}

func (s *server) userID(c *gin.Context) string {
	if id, err := c.Cookie("user_id"); err == nil {
		return id
	}
	return ""
}

// streamEvents writes a workflow's event sequence out as SSE frames
func (s *server) streamEvents(c *gin.Context, events <-chan workflow.Event) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	for event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			s.logger.Error("failed to marshal event", zap.Error(err))
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()
	}
}

func graphPayload(g *model.Graph) gin.H {
	return gin.H{
		"graph_id":      g.ID,
		"concepts":      g.Concepts,
		"relationships": g.Relationships,
	}
}

func (s *server) generateStream(c *gin.Context) {
	var req struct {
		Topic string `json:"topic" binding:"required"`
		Count int    `json:"count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic is required"})
		return
	}
	if req.Count == 0 {
		req.Count = 10
	}
	if req.Count < workflow.MinConceptCount || req.Count > workflow.MaxConceptCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "concept count must be between 5 and 20"})
		return
	}

	events := s.orch.Generate(c.Request.Context(), workflow.GenerateRequest{
		Topic:  req.Topic,
		Count:  req.Count,
		UserID: s.userID(c),
	})
	s.streamEvents(c, events)
}

type feedbackRequest struct {
	GraphID      *int64 `json:"graph_id" binding:"required"`
	IsLike       *bool  `json:"is_like" binding:"required"`
	Topic        string `json:"topic" binding:"required"`
	Count        int    `json:"count" binding:"required"`
	IsNewConcept bool   `json:"is_new_concept"`
	AddedConcept struct {
		NewConcept  string `json:"new_concept"`
		BaseGraphID int64  `json:"base_graph_id"`
		Regenerate  bool   `json:"regenerate"`
	} `json:"added_concept_data"`
}

func (s *server) feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Count < workflow.MinConceptCount || req.Count > workflow.MaxConceptCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "concept count must be between 5 and 20"})
		return
	}
	userID := s.userID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user id"})
		return
	}

	ctx := c.Request.Context()
	graphID := *req.GraphID

	updated, err := s.orch.Feedback(ctx, graphID, *req.IsLike)
	if err != nil {
		if apperrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("failed to apply feedback", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply feedback"})
		return
	}

	if *req.IsLike {
		c.JSON(http.StatusOK, updated)
		return
	}

	// Dislike: serve the next-best unseen cached graph while the user is
	// under the view-exhaustion threshold. New-concept graphs flagged for
	// regeneration skip the cached path.
	forceRegenerate := req.IsNewConcept && req.AddedConcept.Regenerate
	if !forceRegenerate {
		if err := s.orch.RecordView(ctx, userID, graphID); err != nil {
			s.logger.Warn("failed to record view", zap.Error(err))
		}
		next, ok, err := s.orch.NextCached(ctx, req.Topic, req.Count, userID)
		if err != nil {
			s.logger.Error("failed to query cached graphs", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query cached graphs"})
			return
		}
		if ok {
			c.JSON(http.StatusOK, gin.H{
				"status":   workflow.StatusComplete,
				"progress": 100,
				"message":  "Fetched cached knowledge graph",
				"data":     graphPayload(next),
			})
			return
		}
	}

	if req.IsNewConcept {
		baseGraphID := req.AddedConcept.BaseGraphID
		if baseGraphID == 0 {
			baseGraphID = graphID
		}
		if req.AddedConcept.NewConcept == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing new concept data"})
			return
		}
		s.streamEvents(c, s.orch.AddConcept(ctx, baseGraphID, req.AddedConcept.NewConcept, userID))
		return
	}

	events := s.orch.Generate(ctx, workflow.GenerateRequest{
		Topic:      req.Topic,
		Count:      req.Count,
		UserID:     userID,
		SkipCache:  true,
		RecordView: true,
	})
	s.streamEvents(c, events)
}

func (s *server) addConcept(c *gin.Context) {
	var req struct {
		GraphID    int64  `json:"graph_id" binding:"required"`
		NewConcept string `json:"new_concept" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events := s.orch.AddConcept(c.Request.Context(), req.GraphID, req.NewConcept, s.userID(c))
	s.streamEvents(c, events)
}

func (s *server) searchGraph(c *gin.Context) {
	var req struct {
		GraphID int64 `json:"graph_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "graph_id is required"})
		return
	}

	graph, err := s.store.GetByID(c.Request.Context(), req.GraphID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("failed to load graph", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load graph"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"graph_id":      graph.ID,
		"topic":         graph.Topic,
		"concept_count": graph.ConceptCount,
		"concepts":      graph.Concepts,
		"relationships": graph.Relationships,
	}})
}

func (s *server) getGraph(c *gin.Context) {
	var req struct {
		GraphID int64 `form:"graph_id" binding:"required"`
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "graph_id is required"})
		return
	}

	graph, err := s.store.GetByID(c.Request.Context(), req.GraphID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("failed to load graph", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load graph"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"graph_id":      graph.ID,
		"topic":         graph.Topic,
		"concept_count": len(graph.Concepts),
		"concepts":      graph.Concepts,
		"relationships": graph.Relationships,
	}})
}

func (s *server) defaultGraph(c *gin.Context) {
	graph, err := s.store.DefaultGraph(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to load default graph", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if graph == nil {
		c.JSON(http.StatusOK, gin.H{"error": "no default graph found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": graphPayload(graph)})
}

func (s *server) checkFilter(c *gin.Context) {
	var req struct {
		Topic string `json:"topic"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"filtered": s.filter.Contains(req.Topic)})
}
