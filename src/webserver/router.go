// Package webserver is the HTTP surface of the service: a thin gin layer
// mapping requests onto the governance and settlement operations.
package webserver

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/questdao/src/governance"
	"github.com/stake-plus/questdao/src/logging"
	"github.com/stake-plus/questdao/src/settlement"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/tally"
)

type Deps struct {
	Store    *store.Store
	Gov      *governance.Orchestrator
	Settle   *settlement.Engine
	Tally    *tally.Reconciler
	Nonces   NonceStore
	Gatherer prometheus.Gatherer
	Log      logrus.FieldLogger
}

type Options struct {
	JWTSecret []byte
	// Admins lists the wallets allowed to run operator routes. It is called
	// per request.
	Admins       func() []string
	AllowOrigins []string
	RateLimit    int
	RateWindow   time.Duration
}

// Server is the gin engine plus the background state it owns.
type Server struct {
	*gin.Engine
	limiter *RateLimiter
}

func New(d Deps, opts Options) *Server {
	if opts.Admins == nil {
		opts.Admins = func() []string { return nil }
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 60
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if d.Nonces == nil {
		d.Nonces = newMemoryNonces(5 * time.Minute)
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logging.Or(d.Log).WithField("component", "http")))
	s := &Server{Engine: r, limiter: NewRateLimiter(opts.RateLimit, opts.RateWindow)}
	attachRoutes(r, d, opts, s.limiter)
	return s
}

// Close stops the rate limiter's pruning goroutine.
func (s *Server) Close() { s.limiter.Stop() }

func attachRoutes(r *gin.Engine, d Deps, opts Options, limiter *RateLimiter) {
	corsCfg := cors.Config{
		AllowOrigins:     opts.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowOrigins = []string{"http://localhost:3000"}
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := d.Store.DB().DB()
		if err == nil {
			err = sqlDB.PingContext(c)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"err": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	authH := NewAuth(d.Nonces, opts.JWTSecret)
	questH := NewQuests(d.Store, d.Gov, d.Tally)
	voteH := NewVotes(d.Store, d.Gov)
	betH := NewBets(d.Store, d.Gov)
	rewardH := NewRewards(d.Store, d.Settle, opts.Admins)
	seasonH := NewSeasons(d.Store)

	v1 := r.Group("/v1")
	v1.Use(RateLimitMiddleware(limiter))
	{
		v1.POST("/auth/challenge", authH.Challenge)
		v1.POST("/auth/verify", authH.Verify)

		v1.GET("/quests/:key", questH.Get)
		v1.GET("/quests/:key/tally/:phase", questH.Tally)
		v1.GET("/quests/:key/votes", voteH.List)
		v1.GET("/quests/:key/bets", betH.List)
		v1.GET("/quests/:key/rewards", rewardH.ForQuest)
		v1.GET("/wallets/:wallet/rewards", rewardH.ForWallet)
	}

	secured := v1.Group("")
	secured.Use(JWTMiddleware(opts.JWTSecret))
	{
		secured.POST("/quests/:key/votes/:phase", voteH.Cast)
		secured.POST("/quests/:key/bets", betH.Place)
		secured.POST("/rewards/:key/claim", rewardH.Claim)
	}

	admin := v1.Group("/admin")
	admin.Use(JWTMiddleware(opts.JWTSecret), AdminMiddleware(opts.Admins))
	{
		admin.POST("/seasons", seasonH.Create)
		admin.POST("/quests", questH.Create)
		admin.POST("/quests/:key/answers", questH.AddAnswers)
		admin.POST("/quests/:key/transitions/:op", questH.Transition)
		admin.POST("/quests/:key/reconcile", questH.Reconcile)
		admin.POST("/quests/:key/settle", rewardH.Settle)
		admin.POST("/rewards/:key/reconcile", rewardH.Reconcile)
		admin.POST("/bettings/:key/confirm", betH.Confirm)
	}
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"addr":    c.GetString("addr"),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}
