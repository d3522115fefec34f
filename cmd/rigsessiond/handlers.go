package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/dougsko/rigsession/pkg/cache"
	"github.com/dougsko/rigsession/pkg/lease"
	"github.com/dougsko/rigsession/pkg/logging"
	"github.com/dougsko/rigsession/pkg/morse"
	"github.com/dougsko/rigsession/pkg/rigerr"
	"github.com/dougsko/rigsession/pkg/storage"
)

// tokenHeader carries the lease token on mutating requests
const tokenHeader = "X-Lease-Token"

// setupWebServer initializes the router and routes
func (d *Daemon) setupWebServer() {
	cfg := d.currentConfig()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)

		api.POST("/lease", d.handleAcquireLease)
		api.PUT("/lease", d.handleRenewLease)
		api.DELETE("/lease", d.handleReleaseLease)

		// routes that may reach the radio share one limiter
		device := api.Group("")
		if cfg.Web.RateLimit > 0 {
			device.Use(rateLimiter(cfg.Web.RateLimit, cfg.Web.RateBurst))
		}
		device.GET("/radio/:vfo/frequency", d.handleGetFrequency)
		device.PUT("/radio/:vfo/frequency", d.handleSetFrequency)
		device.GET("/radio/:vfo/mode", d.handleGetMode)
		device.PUT("/radio/:vfo/mode", d.handleSetMode)
		device.GET("/ptt", d.handleGetPTT)
		device.PUT("/ptt", d.handleSetPTT)
		device.POST("/morse", d.handleSendMorse)
		device.DELETE("/morse", d.handleAbortMorse)
		device.POST("/command", d.handleCommand)
		device.GET("/morse/sidetone", d.handleSidetone)

		api.GET("/cache/:vfo", d.handleGetCache)
		api.PUT("/cache/timeout", d.handleSetCacheTimeout)

		api.GET("/journal/leases", d.handleGetLeaseEvents)
		api.GET("/journal/transmissions", d.handleGetTransmissions)
		api.GET("/journal/stats", d.handleGetJournalStats)

		api.GET("/ws", d.handleStatusWebSocket)
	}

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))
	}

	d.router = router
	d.webServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Web.BindAddress, cfg.Web.Port),
		Handler: router,
	}
}

// requestLogger logs every request through the component logger
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debugf("web", "%s %s %d %s", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Round(time.Microsecond))
	}
}

// rateLimiter rejects requests beyond limit per second with 429
func rateLimiter(limit float64, burst int) gin.HandlerFunc {
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  rigerr.CodeBusy,
			})
			return
		}
		c.Next()
	}
}

// httpStatus maps session errors onto HTTP status codes
func httpStatus(err error) int {
	switch {
	case errors.Is(err, rigerr.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, rigerr.ErrInvalidArgument), errors.Is(err, rigerr.ErrProtocol):
		return http.StatusBadRequest
	case errors.Is(err, rigerr.ErrOverflow):
		return http.StatusInsufficientStorage
	case errors.Is(err, rigerr.ErrNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{
		"error": err.Error(),
		"code":  rigerr.Code(err),
	})
}

func requestToken(c *gin.Context) lease.Token {
	return lease.Token(c.GetHeader(tokenHeader))
}

func vfoParam(c *gin.Context) (cache.VFO, bool) {
	vfo, err := cache.ParseVFO(c.Param("vfo"))
	if err != nil {
		fail(c, err)
		return cache.VFONone, false
	}
	return vfo, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	n, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return n
}

// handleGetStatus returns the session status
func (d *Daemon) handleGetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":     Version,
		"session":     d.session.Status(),
		"connections": d.engine.Connections(),
	})
}

func (d *Daemon) handleAcquireLease(c *gin.Context) {
	token, err := d.session.AcquireLease()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": string(token)})
}

func (d *Daemon) handleRenewLease(c *gin.Context) {
	if err := d.session.RenewLease(requestToken(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "renewed"})
}

func (d *Daemon) handleReleaseLease(c *gin.Context) {
	if err := d.session.ReleaseLease(requestToken(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

func (d *Daemon) handleGetFrequency(c *gin.Context) {
	vfo, ok := vfoParam(c)
	if !ok {
		return
	}
	freq, hit, err := d.session.GetFrequency(vfo)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vfo": vfo.String(), "frequency": freq, "cached": hit})
}

func (d *Daemon) handleSetFrequency(c *gin.Context) {
	vfo, ok := vfoParam(c)
	if !ok {
		return
	}

	var req struct {
		Frequency int64 `json:"frequency" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": rigerr.CodeInvalidArgument})
		return
	}

	if err := d.session.SetFrequency(requestToken(c), vfo, req.Frequency); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vfo": vfo.String(), "frequency": req.Frequency})
}

func (d *Daemon) handleGetMode(c *gin.Context) {
	vfo, ok := vfoParam(c)
	if !ok {
		return
	}
	mode, width, hit, err := d.session.GetMode(vfo)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vfo": vfo.String(), "mode": mode, "width": width, "cached": hit})
}

func (d *Daemon) handleSetMode(c *gin.Context) {
	vfo, ok := vfoParam(c)
	if !ok {
		return
	}

	var req struct {
		Mode  string `json:"mode" binding:"required"`
		Width int    `json:"width"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": rigerr.CodeInvalidArgument})
		return
	}

	if err := d.session.SetMode(requestToken(c), vfo, req.Mode, req.Width); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vfo": vfo.String(), "mode": req.Mode, "width": req.Width})
}

func (d *Daemon) handleGetPTT(c *gin.Context) {
	on, err := d.session.GetPTT()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ptt": on})
}

func (d *Daemon) handleSetPTT(c *gin.Context) {
	var req struct {
		PTT *bool `json:"ptt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": rigerr.CodeInvalidArgument})
		return
	}

	if err := d.session.SetPTT(requestToken(c), *req.PTT); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ptt": *req.PTT})
}

func (d *Daemon) handleGetCache(c *gin.Context) {
	vfo, ok := vfoParam(c)
	if !ok {
		return
	}
	snap, err := d.session.CacheSnapshot(vfo)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cache":    snap,
		"timeouts": d.session.Cache().Timeouts(),
		"stats":    d.session.Cache().Stats(),
	})
}

func (d *Daemon) handleSetCacheTimeout(c *gin.Context) {
	var req struct {
		Class string `json:"class" binding:"required"`
		MS    *int   `json:"ms" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": rigerr.CodeInvalidArgument})
		return
	}

	class, err := cache.ParseClass(req.Class)
	if err != nil {
		fail(c, err)
		return
	}
	if err := d.session.SetCacheTimeout(requestToken(c), class, *req.MS); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeouts": d.session.Cache().Timeouts()})
}

func (d *Daemon) handleSendMorse(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": rigerr.CodeInvalidArgument})
		return
	}

	queued, err := d.session.SendMorse(requestToken(c), req.Text)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":    "queued",
		"queued":    queued,
		"queue_len": d.session.QueueLen(),
	})
}

func (d *Daemon) handleAbortMorse(c *gin.Context) {
	if err := d.session.AbortMorse(requestToken(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "aborted"})
}

// handleSidetone renders text as a WAV preview at the keyer speed
func (d *Daemon) handleSidetone(c *gin.Context) {
	text := c.Query("text")
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required", "code": rigerr.CodeInvalidArgument})
		return
	}
	if len(text) > morse.MaxSidetoneText {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("text exceeds %d bytes", morse.MaxSidetoneText),
			"code":  rigerr.CodeInvalidArgument,
		})
		return
	}

	tone := morse.NewSidetone(queryInt(c, "wpm", d.session.Keyer().Config().WPM))
	if freq := queryInt(c, "freq", 0); freq > 0 {
		tone.Freq = float64(freq)
	}

	data, err := tone.WAV(text)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": rigerr.CodeInvalidArgument})
		return
	}
	c.Data(http.StatusOK, "audio/wav", data)
}

// handleCommand runs one line protocol command on behalf of the request token
func (d *Daemon) handleCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": rigerr.CodeInvalidArgument})
		return
	}

	resp := d.engine.Execute(requestToken(c), req.Command)
	status := http.StatusOK
	if !resp.Success {
		status = httpStatus(resp.Err())
	}
	c.JSON(status, resp)
}

func (d *Daemon) requireJournal(c *gin.Context) bool {
	if d.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal is disabled"})
		return false
	}
	return true
}

// handleGetLeaseEvents returns journalled lease operations
func (d *Daemon) handleGetLeaseEvents(c *gin.Context) {
	if !d.requireJournal(c) {
		return
	}

	query := storage.LeaseEventQuery{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
		Token:  c.Query("token"),
		Op:     c.Query("op"),
		Result: c.Query("result"),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339", "code": rigerr.CodeInvalidArgument})
			return
		}
		query.Since = &t
	}

	events, err := d.journal.GetLeaseEvents(query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (d *Daemon) handleGetTransmissions(c *gin.Context) {
	if !d.requireJournal(c) {
		return
	}

	txs, err := d.journal.RecentTransmissions(queryInt(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transmissions": txs, "count": len(txs)})
}

func (d *Daemon) handleGetJournalStats(c *gin.Context) {
	if !d.requireJournal(c) {
		return
	}

	stats, err := d.journal.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the API binds to localhost by default
	},
}

// handleStatusWebSocket streams session status until the client goes away
func (d *Daemon) handleStatusWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("web", "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logging.Debug("web", "status websocket client connected")

	// The read loop only detects the client closing the socket
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(d.statusInterval)
	defer ticker.Stop()

	send := func() bool {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		err := conn.WriteJSON(gin.H{
			"type":      "status",
			"timestamp": time.Now().UTC(),
			"status":    d.session.Status(),
		})
		if err != nil {
			logging.Debugf("web", "websocket write error: %v", err)
			return false
		}
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-ticker.C:
			if !send() {
				return
			}
		case <-closed:
			logging.Debug("web", "status websocket client disconnected")
			return
		case <-d.ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		}
	}
}
