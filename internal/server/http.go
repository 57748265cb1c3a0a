package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"framegate/internal/adapter"
	"framegate/internal/hexcodec"
	"framegate/internal/observability"
	"framegate/internal/protocol"
	"framegate/internal/store"
	"framegate/internal/textcodec"
)

// Router builds the management API. ctx bounds websocket clients.
func (s *Server) Router(ctx context.Context) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), observability.RequestLogger(s.log), observability.RequestMetrics())

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(observability.Handler()))
	r.GET("/ws", s.hub.HandleWS(ctx))
	r.GET("/sessions", s.handleSessions)
	r.GET("/sessions/:id/stats", s.handleStats)
	r.POST("/decode", s.handleDecode)
	r.GET("/frames", s.handleFrames)
	r.GET("/frames/export", s.handleExport)

	protected := r.Group("/")
	protected.Use(AuthMiddleware(s.config.JWTSecret))
	protected.DELETE("/sessions/:id/stats", s.handleResetStats)
	protected.POST("/sessions/:id/send", s.handleSend)

	return r
}

// ServeHTTP runs the API until ctx ends.
func (s *Server) ServeHTTP(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("http listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// statusFor maps domain errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownSession), errors.Is(err, store.ErrNoStats):
		return http.StatusNotFound
	case errors.Is(err, ErrReadOnly):
		return http.StatusConflict
	case errors.Is(err, hexcodec.ErrInvalidFormat),
		errors.Is(err, textcodec.ErrUnknownEncoding),
		errors.Is(err, textcodec.ErrUnencodable),
		errors.Is(err, protocol.ErrUnknownProtocol),
		errors.Is(err, adapter.ErrPayloadTooLarge):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"gateway_id": s.config.GatewayID,
		"protocol":   s.def.Name,
		"checksum":   s.def.Checksum(),
		"sessions":   len(s.Sessions()),
		"ws_clients": s.hub.ClientCount(),
		"archive":    s.archive != nil,
		"uptime":     time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Sessions())
}

func (s *Server) handleStats(c *gin.Context) {
	st, err := s.store.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleResetStats(c *gin.Context) {
	if err := s.store.ResetStats(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSend(c *gin.Context) {
	var req OutboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := s.Send(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "sent",
		"bytes":  len(data),
		"hex":    hexcodec.Encode(data),
	})
}

type decodeRequest struct {
	Hex      string `json:"hex" binding:"required"`
	Protocol string `json:"protocol"`
}

type decodedFrame struct {
	Valid      bool           `json:"valid"`
	Length     int            `json:"length"`
	Hex        string         `json:"hex"`
	PayloadHex string         `json:"payload_hex"`
	Text       string         `json:"text,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// handleDecode runs a one-off engine over a hex dump.
func (s *Server) handleDecode(c *gin.Context) {
	var req decodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	def := s.def
	if req.Protocol != "" {
		d, err := protocol.Lookup(req.Protocol)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		def = d
	}
	raw, err := hexcodec.Decode(req.Hex)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	frames := make([]decodedFrame, 0)
	def.NewEngine().Process(raw, func(frame []byte, valid bool) {
		payload := def.Payload(frame)
		out := decodedFrame{
			Valid:      valid,
			Length:     len(frame),
			Hex:        hexcodec.Encode(frame),
			PayloadHex: hexcodec.Encode(payload),
			Fields:     def.Describe(frame),
		}
		if valid {
			text, err := textcodec.Decode(payload, s.config.Encoding)
			if err != nil {
				s.log.Debug().Err(err).Str("encoding", s.config.Encoding).Msg("payload text decode failed")
			}
			out.Text = text
		}
		frames = append(frames, out)
	})
	c.JSON(http.StatusOK, gin.H{
		"protocol": def.Name,
		"bytes":    len(raw),
		"frames":   frames,
	})
}

func (s *Server) recent(c *gin.Context) ([]store.FrameRecord, bool) {
	if s.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive disabled"})
		return nil, false
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid limit %q", c.Query("limit"))})
		return nil, false
	}
	records, err := s.archive.Recent(c.Request.Context(), c.Query("session"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return records, true
}

func (s *Server) handleFrames(c *gin.Context) {
	records, ok := s.recent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records, "total": len(records)})
}

func (s *Server) handleExport(c *gin.Context) {
	records, ok := s.recent(c)
	if !ok {
		return
	}
	filename := fmt.Sprintf("frames-%s.xlsx", time.Now().Format("20060102150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := store.ExportXLSX(c.Writer, records); err != nil {
		s.log.Error().Err(err).Msg("export failed")
		c.Status(http.StatusInternalServerError)
	}
}
