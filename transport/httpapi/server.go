// Package httpapi exposes the bank account commands and views over HTTP.
//
// Routes:
//
//	POST /account/:id   externally tagged command, 204 on success
//	GET  /account/:id   the account view, 404 when the account has no events
//	GET  /healthz       liveness
//	GET  /metrics       Prometheus exposition, when a handler is configured
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/terraskye/cqrs"
	"github.com/terraskye/cqrs/bank"
)

// AccountQueries answers GetAccount.
type AccountQueries = cqrs.QueryHandler[bank.GetAccount, bank.AccountView]

type options struct {
	logger      *logrus.Entry
	metrics     http.Handler
	serviceName string
}

// Option configures NewRouter.
type Option func(*options)

// WithLogger logs every request to logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) { o.metrics = h }
}

// WithServiceName names the server in its traces.
func WithServiceName(name string) Option {
	return func(o *options) { o.serviceName = name }
}

type handlers struct {
	commands cqrs.Executor
	accounts AccountQueries
}

// NewRouter returns the gin engine serving commands through commands and
// views through accounts.
//
// Example Usage:
//
//	router := httpapi.NewRouter(exec, cqrs.NewQueryGateway[bank.GetAccount, bank.AccountView](queries),
//	    httpapi.WithMetricsHandler(promhttp.Handler()),
//	)
//	err := http.ListenAndServe(":8080", router)
func NewRouter(commands cqrs.Executor, accounts AccountQueries, opts ...Option) *gin.Engine {
	o := options{
		logger:      logrus.NewEntry(logrus.StandardLogger()),
		serviceName: "bankaccount",
	}
	for _, opt := range opts {
		opt(&o)
	}

	h := handlers{commands: commands, accounts: accounts}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(o.serviceName))
	router.Use(loggingMiddleware(o.logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if o.metrics != nil {
		router.GET("/metrics", gin.WrapH(o.metrics))
	}

	account := router.Group("/account", metadataMiddleware())
	account.POST("/:id", h.executeCommand)
	account.GET("/:id", h.queryAccount)

	return router
}

func (h handlers) executeCommand(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd, err := bank.DecodeCommand(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = h.commands.Execute(c.Request.Context(), c.Param("id"), cmd, Metadata(c))
	if err != nil {
		status, message := errorResponse(err)
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h handlers) queryAccount(c *gin.Context) {
	view, err := h.accounts.HandleQuery(c.Request.Context(), bank.GetAccount{AccountID: c.Param("id")})
	switch {
	case errors.Is(err, bank.ErrAccountNotFound):
		c.Status(http.StatusNotFound)
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, view)
	}
}

// errorResponse maps an execution error onto a status code and the message
// shown to the client. Storage failures are not described.
func errorResponse(err error) (int, string) {
	switch cqrs.Classify(err) {
	case cqrs.KindDomain:
		var domainErr *cqrs.DomainError
		if errors.As(err, &domainErr) {
			return http.StatusBadRequest, domainErr.Reason
		}
		return http.StatusBadRequest, err.Error()
	case cqrs.KindDeserialization:
		return http.StatusBadRequest, err.Error()
	case cqrs.KindConflict:
		return http.StatusConflict, cqrs.ErrConcurrencyConflict.Error()
	default:
		if errors.Is(err, cqrs.ErrEmptyAggregateID) {
			return http.StatusBadRequest, cqrs.ErrEmptyAggregateID.Error()
		}
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}
