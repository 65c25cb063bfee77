package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/matnpu/internal/logger"
	"github.com/samcharles93/matnpu/pkg/matmul"
)

type Server struct {
	drv   matmul.Driver
	store *ResultStore
	log   logger.Logger
	clock func() time.Time
}

func NewServer(drv matmul.Driver, store *ResultStore, log logger.Logger) *Server {
	if store == nil {
		store = NewResultStore()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		drv:   drv,
		store: store,
		log:   log,
		clock: time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/modes", s.handleModes)
	e.POST("/v1/matmul", s.handleMatmul)
	e.GET("/v1/results/:id", s.handleGetResult)
	e.DELETE("/v1/results/:id", s.handleDeleteResult)
}

func (s *Server) handleModes(c *echo.Context) error {
	modes := matmul.SupportedModes()
	resp := ModesResponse{Object: "list", Data: make([]ModeInfo, 0, len(modes))}
	for _, m := range modes {
		resp.Data = append(resp.Data, modeInfo(m))
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleMatmul(c *echo.Context) error {
	if s.drv == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "matmul driver not configured", "")
	}
	body, err := decodeJSON[MatmulRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	req, err := toRequest(body)
	if err != nil {
		return writeMatmulError(c, err)
	}

	ctx := logger.WithContext(c.Request().Context(), s.log)
	start := s.clock()
	res, err := matmul.Multiply(ctx, s.drv, req)
	if err != nil {
		s.log.Warn("matmul failed", "dims", req.Dims.String(), "error", err)
		return writeMatmulError(c, err)
	}
	s.log.Debug("matmul done", "mode", res.Mode().String(), "dims", req.Dims.String(), "elapsed", s.clock().Sub(start))

	resp, err := renderResult(res)
	if err != nil {
		return errors.Join(writeMatmulError(c, err), res.Release())
	}
	if body.Keep {
		resp.ID = s.store.Put(res, s.clock())
		return writeJSON(c, http.StatusOK, resp)
	}
	if err := res.Release(); err != nil {
		return writeMatmulError(c, err)
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleGetResult(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return writeNotFound(c, "result not found")
	}
	resp, ok, err := s.store.Read(id)
	if !ok {
		return writeNotFound(c, "result not found")
	}
	if err != nil {
		return writeMatmulError(c, err)
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleDeleteResult(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return writeNotFound(c, "result not found")
	}
	ok, err := s.store.Delete(id)
	if !ok {
		return writeNotFound(c, "result not found")
	}
	if err != nil {
		return writeMatmulError(c, err)
	}
	return writeJSON(c, http.StatusOK, DeleteResultResp{
		ID:      id,
		Object:  "matmul.result",
		Deleted: true,
	})
}
