package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/lorallama/internal/logger"
	"github.com/samcharles93/lorallama/internal/model"
	"github.com/samcharles93/lorallama/internal/version"
)

type Server struct {
	provider ModelProvider
	log      logger.Logger
	clock    func() time.Time
}

func NewServer(provider ModelProvider, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		provider: provider,
		log:      log,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/forward", s.handleForward)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/v1/models/:id", s.handleGetModel)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) handleForward(c *echo.Context) error {
	req, err := decodeJSON[ForwardRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}
	if len(req.Tokens) == 0 {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "tokens must not be empty", "tokens")
	}
	if req.TopK < 0 {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "top_k must not be negative", "top_k")
	}

	lm, err := s.provider.Model(c.Request().Context(), req.Model)
	if err != nil {
		return writeFailure(c, err)
	}

	start := s.clock()
	logits, err := lm.Model.ForwardAt(req.Tokens, req.StartPos)
	if err != nil {
		return writeFailure(c, err)
	}
	resp := ForwardResponse{
		ID:      newForwardID(),
		Object:  "forward",
		Created: start.Unix(),
		Model:   lm.Name,
		Shape:   logits.Shape(),
	}
	if !req.OmitLogits {
		resp.Logits = splitRows(logits.Data(), logits.Dim(1))
	}
	if req.TopK > 0 {
		resp.Top, err = model.TopK(logits, req.TopK)
		if err != nil {
			return writeFailure(c, err)
		}
	}

	s.log.Debug("forward",
		"id", resp.ID,
		"model", lm.Name,
		"tokens", len(req.Tokens),
		"start_pos", req.StartPos,
		"took", s.clock().Sub(start),
	)
	c.Response().Header().Set("X-Request-Id", resp.ID)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListModels(c *echo.Context) error {
	names, err := s.provider.List()
	if err != nil {
		return writeFailure(c, err)
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, ModelList{Object: "list", Data: names})
}

func (s *Server) handleGetModel(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return writeNotFound(c, "model not found")
	}
	lm, err := s.provider.Model(c.Request().Context(), id)
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, ModelInfo{
		ID:      lm.Name,
		Object:  "model",
		Config:  lm.Model.ModelConfig(),
		Tensors: lm.Tensors,
	})
}

func splitRows(data []float32, width int) [][]float32 {
	if width == 0 {
		return nil
	}
	rows := make([][]float32, len(data)/width)
	for i := range rows {
		rows[i] = data[i*width : (i+1)*width]
	}
	return rows
}
