// Package httpapi is the thin Gin validation + dispatch layer over the
// Read Service, implementing the endpoints of spec.md §6.
package httpapi

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"countervalue/internal/ids"
	"countervalue/internal/obs"
	"countervalue/internal/read"
	"countervalue/internal/registry"
	"countervalue/internal/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wires the Read Service behind Gin routes.
type Server struct {
	engine   *gin.Engine
	service  *read.Service
	store    store.Store
	registry *registry.Registry
	logger   *obs.Logger
	metrics  *obs.Metrics
	cache    *ResponseCache
	version  string
}

// New builds a Server with CORS, request-id, and metrics middleware
// installed, matching the teacher's setupRoutes composition. cache may be
// nil, in which case getExchanges/postRates always recompute.
func New(service *read.Service, st store.Store, reg *registry.Registry, logger *obs.Logger, metrics *obs.Metrics, cache *ResponseCache, version string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestid.New())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
	}))

	s := &Server{engine: engine, service: service, store: st, registry: reg, logger: logger, metrics: metrics, cache: cache, version: version}
	if metrics != nil {
		engine.Use(s.metricsMiddleware())
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.metrics.HTTPRequestLatency.WithLabelValues(c.FullPath(), fmt.Sprint(c.Writer.Status())).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) registerRoutes() {
	s.engine.POST("/rates/:granularity", s.postRates)
	s.engine.GET("/exchanges/:from/:to", s.getExchanges)
	s.engine.GET("/tickers", s.getTickers)
	s.engine.GET("/_health", s.getHealth)
	s.engine.GET("/_health/noop", s.getHealthNoop)
	s.engine.GET("/_health/detail", s.getHealthDetail)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

func (s *Server) postRates(c *gin.Context) {
	granularityParam := c.Param("granularity")
	var g ids.Granularity
	switch granularityParam {
	case "daily":
		g = ids.Daily
	case "hourly":
		g = ids.Hourly
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "granularity must be daily or hourly"})
		return
	}

	var body RatesRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var cacheKey string
	if s.cache != nil {
		cacheKey = ratesCacheKey(granularityParam, body)
		var cached gin.H
		if err := s.cache.Get(c.Request.Context(), cacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	seen := make(map[string]bool, len(body.Pairs))
	requestPairs := make([]read.RequestPair, 0, len(body.Pairs))

	for _, p := range body.Pairs {
		if !s.registry.IsSupported(p.From) || !s.registry.IsSupported(p.To) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported ticker in pair %s/%s", p.From, p.To)})
			return
		}

		if p.AfterDay != "" && g != ids.Daily {
			c.JSON(http.StatusBadRequest, gin.H{"error": "afterDay is only accepted for daily granularity"})
			return
		}

		dedupKey := p.From + "_" + p.To + "_" + p.Exchange
		if seen[dedupKey] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pairs must not contain duplicates"})
			return
		}
		seen[dedupKey] = true

		after := p.After
		if after == "" {
			after = p.AfterDay // deprecated alias
		}

		rp := read.RequestPair{
			From:     p.From,
			To:       p.To,
			Exchange: p.Exchange,
			After:    after,
		}
		if p.At != nil {
			rp.AtSet = true
			rp.At = p.At
		}
		requestPairs = append(requestPairs, rp)
	}

	resp := s.service.GetHisto(c.Request.Context(), requestPairs, g)
	out := toJSONHisto(resp)

	if s.cache != nil {
		if err := s.cache.Set(c.Request.Context(), cacheKey, out); err != nil {
			s.logger.WithError(err).Warn("failed to populate response cache")
		}
	}

	c.JSON(http.StatusOK, out)
}

// ratesCacheKey derives a stable cache key from the granularity and the
// fully-bound request body, so two requests asking for the same pairs
// (in the same order) share a cache entry.
func ratesCacheKey(granularity string, body RatesRequest) string {
	data, _ := json.Marshal(body)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("rates:%s:%x", granularity, sum)
}

func toJSONHisto(resp map[string]map[string]map[string]read.PairData) gin.H {
	out := gin.H{}
	for to, byFrom := range resp {
		fromMap := gin.H{}
		for from, byExchange := range byFrom {
			exchangeMap := gin.H{}
			for exchange, data := range byExchange {
				buckets := gin.H{}
				for k, v := range data.Buckets {
					buckets[k] = v.String()
				}
				exchangeMap[exchange] = gin.H{
					"buckets": buckets,
					"latest":  data.Latest.String(),
				}
			}
			fromMap[from] = exchangeMap
		}
		out[to] = fromMap
	}
	return out
}

func (s *Server) getExchanges(c *gin.Context) {
	from := strings.ToUpper(c.Param("from"))
	to := strings.ToUpper(c.Param("to"))

	if !s.registry.IsSupported(from) || !s.registry.IsSupported(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported ticker"})
		return
	}

	cacheKey := fmt.Sprintf("exchanges:%s:%s", from, to)
	if s.cache != nil {
		var cached []read.ExchangeInfo
		if err := s.cache.Get(c.Request.Context(), cacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	list := s.service.GetExchanges(c.Request.Context(), from, to)

	if s.cache != nil {
		if err := s.cache.Set(c.Request.Context(), cacheKey, list); err != nil {
			s.logger.WithError(err).Warn("failed to populate response cache")
		}
	}

	c.JSON(http.StatusOK, list)
}

func (s *Server) getTickers(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.CryptoTickers())
}

func (s *Server) getHealth(c *gin.Context) {
	if err := s.store.StatusDB(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "KO", "service": "database", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "OK", "service": "database", "version": s.version})
}

func (s *Server) getHealthNoop(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (s *Server) getHealthDetail(c *gin.Context) {
	ctx := c.Request.Context()

	type serviceStatus struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}

	statuses := []serviceStatus{}
	overallOK := true

	if err := s.store.StatusDB(ctx); err != nil {
		statuses = append(statuses, serviceStatus{Name: "database", Status: "KO"})
		overallOK = false
	} else {
		statuses = append(statuses, serviceStatus{Name: "database", Status: "OK"})
	}

	meta, err := s.store.GetMeta(ctx)
	if err != nil {
		statuses = append(statuses, serviceStatus{Name: "live-rates", Status: "KO"})
		statuses = append(statuses, serviceStatus{Name: "marketcap", Status: "KO"})
		overallOK = false
	} else {
		if time.Since(meta.LastLiveRatesSync) > 5*time.Minute {
			statuses = append(statuses, serviceStatus{Name: "live-rates", Status: "KO"})
			overallOK = false
		} else {
			statuses = append(statuses, serviceStatus{Name: "live-rates", Status: "OK"})
		}

		if time.Since(meta.LastMarketCapSync) > 25*time.Hour {
			statuses = append(statuses, serviceStatus{Name: "marketcap", Status: "KO"})
			overallOK = false
		} else {
			statuses = append(statuses, serviceStatus{Name: "marketcap", Status: "OK"})
		}
	}

	if overallOK {
		c.JSON(http.StatusOK, statuses)
	} else {
		c.JSON(http.StatusInternalServerError, statuses)
	}
}
