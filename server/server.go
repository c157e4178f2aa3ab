package server

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/yannick-cn/dbc-view/base"
	"github.com/yannick-cn/dbc-view/dbc"
	"github.com/yannick-cn/dbc-view/report"
	"github.com/yannick-cn/dbc-view/rwmap"
	"github.com/yannick-cn/dbc-view/whitelist"
)

var log = base.Logger

// ReportPublisher receives every report produced by POST /validate.
type ReportPublisher interface {
	Publish(ctx context.Context, r *report.Report) error
}

// entry 已上传的数据库
type entry struct {
	name     string
	db       *dbc.Database
	warnings []string
}

type Server struct {
	cfg       *base.HttpServer
	store     *rwmap.RWMap[string, *entry]
	whiteList *whitelist.WhiteList
	publisher ReportPublisher
	engine    *gin.Engine

	mu      sync.Mutex
	entropy io.Reader
}

// New builds the HTTP service. publisher may be nil.
func New(cfg *base.HttpServer, wl *whitelist.WhiteList, publisher ReportPublisher) *Server {
	if wl == nil {
		wl = whitelist.New(false)
	}
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	s := &Server{
		cfg:       cfg,
		store:     rwmap.NewRWMap[string, *entry](16),
		whiteList: wl,
		publisher: publisher,
		entropy:   ulid.Monotonic(src, 0),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET(cfg.HealthCheckURI, pong) // ping路由
	r.POST("/validate", s.validate)
	r.POST("/format", s.format)

	dbGroup := r.Group("/databases")
	{
		dbGroup.GET("", s.listDatabases)
		dbGroup.POST("", s.createDatabase)
		dbGroup.GET("/:key", s.getDatabase)
		dbGroup.DELETE("/:key", s.deleteDatabase)
		dbGroup.GET("/:key/dbc", s.exportDatabase)
		dbGroup.GET("/:key/validate", s.validateDatabase)
		dbGroup.POST("/:key/decode", s.decode)
	}

	// 设置白名单
	r.GET("/whitelist", s.getWhiteList)
	r.POST("/whitelist", s.setWhiteList)
	for _, method := range []string{http.MethodPut, http.MethodPatch, http.MethodDelete} {
		r.Handle(method, "/whitelist", wrongMethod)
	}

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) newKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Store keeps db under a new key and returns the key.
func (s *Server) Store(name string, db *dbc.Database, warnings []string) string {
	key := s.newKey()
	s.store.Set(key, &entry{name: name, db: db, warnings: warnings})
	return key
}

// lookup returns a private copy of the stored database.
func (s *Server) lookup(key string) (*entry, bool) {
	e, ok := s.store.Get(key)
	if !ok {
		return nil, false
	}
	return &entry{name: e.name, db: e.db.Clone(), warnings: e.warnings}, true
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func pong(c *gin.Context) {
	c.Status(http.StatusOK)
}
