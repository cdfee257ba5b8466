package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/taskvisor/internal/metrics"
	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/registry"
	"github.com/loykin/taskvisor/internal/sysinfo"
)

// Actions is the lifecycle surface of the supervisor.
type Actions interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	IsRunning(id string) (bool, error)
	StartAll(ctx context.Context) error
	StopAll(ctx context.Context) error
}

// Pending lists due schedule rules.
type Pending interface {
	PendingTasks(now time.Time) []registry.ScheduledRule
}

// Router provides embeddable HTTP handlers for managing applications.
// Endpoints, relative to basePath:
//
//	GET    /apps                          list applications
//	POST   /apps                          add application (body: ManagedApplication)
//	GET    /apps/:id                      one application
//	PUT    /apps/:id                      replace launch and policy fields
//	DELETE /apps/:id                      stop, then remove
//	POST   /apps/:id/start|stop|restart   lifecycle actions
//	GET    /apps/:id/running              liveness check
//	GET    /apps/:id/schedules            rules of one application
//	POST   /apps/:id/schedules            add rule
//	PUT    /apps/:id/schedules/:rid       update rule
//	DELETE /apps/:id/schedules/:rid       remove rule
//	POST   /actions/start-all|stop-all    bulk actions over enabled applications
//	GET    /schedules                     every rule with its application name
//	GET    /schedules/pending             rules due now
//	GET    /sysinfo                       host snapshot
//	GET    /healthz                       liveness of the daemon itself
//	GET    /metrics                       Prometheus exposition, when enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	reg      *registry.Registry
	actions  Actions
	pending  Pending
	basePath string
	metrics  http.Handler
	sysinfo  func(ctx context.Context) sysinfo.Info
}

// NewRouter constructs a Router. Example basePath: "/api" results in
// /api/apps, /api/schedules and so on.
func NewRouter(reg *registry.Registry, actions Actions, pending Pending, basePath string) *Router {
	return &Router{
		reg:      reg,
		actions:  actions,
		pending:  pending,
		basePath: sanitizeBase(basePath),
		sysinfo: func(ctx context.Context) sysinfo.Info {
			return sysinfo.Collect(ctx, sysinfo.DefaultSampleWindow)
		},
	}
}

// WithMetrics serves h at {basePath}/metrics.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })

	apps := group.Group("/apps")
	apps.GET("", r.handleListApps)
	apps.POST("", r.handleAddApp)
	apps.GET("/:id", r.handleGetApp)
	apps.PUT("/:id", r.handleUpdateApp)
	apps.DELETE("/:id", r.handleRemoveApp)
	apps.POST("/:id/start", r.action(r.actions.Start))
	apps.POST("/:id/stop", r.action(r.actions.Stop))
	apps.POST("/:id/restart", r.action(r.actions.Restart))
	apps.GET("/:id/running", r.handleRunning)
	apps.GET("/:id/schedules", r.handleListAppRules)
	apps.POST("/:id/schedules", r.handleAddRule)
	apps.PUT("/:id/schedules/:rid", r.handleUpdateRule)
	apps.DELETE("/:id/schedules/:rid", r.handleRemoveRule)

	group.POST("/actions/start-all", r.bulk(r.actions.StartAll))
	group.POST("/actions/stop-all", r.bulk(r.actions.StopAll))

	group.GET("/schedules", r.handleListRules)
	group.GET("/schedules/pending", r.handlePending)
	group.GET("/sysinfo", r.handleSysinfo)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer builds a standalone HTTP server on addr using this router. The
// caller runs ListenAndServe and Shutdown.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// stop waits up to the grace period plus the kill wait
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type runningResp struct {
	ID      string `json:"id"`
	Running bool   `json:"running"`
}

func (r *Router) handleListApps(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.reg.Applications())
}

func (r *Router) handleGetApp(c *gin.Context) {
	app, err := r.reg.Application(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, app)
}

func (r *Router) handleAddApp(c *gin.Context) {
	var app model.ManagedApplication
	if err := c.ShouldBindJSON(&app); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if msg := checkApp(app); msg != "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: msg})
		return
	}
	out, err := r.reg.AddApplication(c.Request.Context(), app)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, out)
}

func (r *Router) handleUpdateApp(c *gin.Context) {
	var app model.ManagedApplication
	if err := c.ShouldBindJSON(&app); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	app.ID = c.Param("id")
	if msg := checkApp(app); msg != "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: msg})
		return
	}
	out, err := r.reg.UpdateApplication(c.Request.Context(), app)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleRemoveApp(c *gin.Context) {
	id := c.Param("id")
	if err := r.actions.Stop(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	if err := r.reg.RemoveApplication(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	metrics.ForgetApp(id)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) action(fn func(ctx context.Context, id string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := fn(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		app, err := r.reg.Application(id)
		if err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, app)
	}
}

func (r *Router) bulk(fn func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleRunning(c *gin.Context) {
	id := c.Param("id")
	ok, err := r.actions.IsRunning(id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, runningResp{ID: id, Running: ok})
}

func (r *Router) handleListAppRules(c *gin.Context) {
	app, err := r.reg.Application(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	rules := app.Schedules
	if rules == nil {
		rules = []model.ScheduleRule{}
	}
	writeJSON(c, http.StatusOK, rules)
}

func (r *Router) handleAddRule(c *gin.Context) {
	var rule model.ScheduleRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if rule.ID != "" && !isSafeName(rule.ID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid schedule id: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	out, err := r.reg.AddRule(c.Request.Context(), c.Param("id"), rule)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, out)
}

func (r *Router) handleUpdateRule(c *gin.Context) {
	var rule model.ScheduleRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	rule.ID = c.Param("rid")
	out, err := r.reg.UpdateRule(c.Request.Context(), c.Param("id"), rule)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleRemoveRule(c *gin.Context) {
	if err := r.reg.RemoveRule(c.Request.Context(), c.Param("id"), c.Param("rid")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleListRules(c *gin.Context) {
	rules := r.reg.Rules()
	if rules == nil {
		rules = []registry.ScheduledRule{}
	}
	writeJSON(c, http.StatusOK, rules)
}

func (r *Router) handlePending(c *gin.Context) {
	now := r.reg.Now()
	if at := c.Query("at"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid at: want RFC3339"})
			return
		}
		now = t
	}
	tasks := r.pending.PendingTasks(now)
	if tasks == nil {
		tasks = []registry.ScheduledRule{}
	}
	writeJSON(c, http.StatusOK, tasks)
}

func (r *Router) handleSysinfo(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sysinfo(c.Request.Context()))
}

// checkApp rejects ids and directories that would be unsafe in file names
// and paths. Everything else is left to model validation.
func checkApp(app model.ManagedApplication) string {
	if app.ID != "" && !isSafeName(app.ID) {
		return "invalid id: allowed [A-Za-z0-9._-] and no '..' or path separators"
	}
	if !isSafeAbsPath(app.WorkingDirectory) {
		return "invalid working_directory: must be absolute path without traversal"
	}
	if !isSafeAbsPath(app.Log.Dir) {
		return "invalid log.dir: must be absolute path without traversal"
	}
	return ""
}
