package server

import (
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"

	"github.com/yannick-cn/dbc-view/can"
	"github.com/yannick-cn/dbc-view/dbc"
	"github.com/yannick-cn/dbc-view/report"
	"github.com/yannick-cn/dbc-view/whitelist"
)

const defaultName = "upload.dbc"

type messageSummary struct {
	ID          uint32   `json:"id"`
	Name        string   `json:"name"`
	Length      int      `json:"length"`
	Transmitter string   `json:"transmitter"`
	Signals     []string `json:"signals"`
}

type databaseSummary struct {
	Key          string           `json:"key"`
	Name         string           `json:"name"`
	Version      string           `json:"version"`
	BusType      string           `json:"busType"`
	Nodes        []string         `json:"nodes"`
	MessageCount int              `json:"messageCount"`
	SignalCount  int              `json:"signalCount"`
	Messages     []messageSummary `json:"messages,omitempty"`
	Warnings     []string         `json:"warnings,omitempty"`
}

func summarize(key string, e *entry, withMessages bool) databaseSummary {
	sum := databaseSummary{
		Key:          key,
		Name:         e.name,
		Version:      e.db.Version,
		BusType:      e.db.BusType,
		Nodes:        e.db.Nodes,
		MessageCount: len(e.db.Messages),
		SignalCount:  e.db.SignalCount(),
		Warnings:     e.warnings,
	}
	if sum.Nodes == nil {
		sum.Nodes = []string{}
	}
	if !withMessages {
		return sum
	}
	for _, msg := range e.db.Messages {
		m := messageSummary{ID: msg.ID, Name: msg.Name, Length: msg.Length, Transmitter: msg.Transmitter, Signals: []string{}}
		for _, sig := range msg.Signals {
			m.Signals = append(m.Signals, sig.Name)
		}
		sum.Messages = append(sum.Messages, m)
	}
	return sum
}

func readDBC(c *gin.Context) (*dbc.Database, []string, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	db, warnings := dbc.ParseString(string(body))
	return db, warnings, true
}

// POST /validate?name=file.dbc
func (s *Server) validate(c *gin.Context) {
	db, warnings, ok := readDBC(c)
	if !ok {
		return
	}

	r := report.Validate(c.DefaultQuery("name", defaultName), db, warnings)
	if s.publisher != nil {
		if err := s.publisher.Publish(c.Request.Context(), r); err != nil {
			log.Errorln(err)
		}
	}
	c.JSON(http.StatusOK, r)
}

// POST /format
func (s *Server) format(c *gin.Context) {
	db, _, ok := readDBC(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(dbc.WriteString(db)))
}

// GET /databases
func (s *Server) listDatabases(c *gin.Context) {
	sums := make([]databaseSummary, 0, s.store.Len())
	for _, key := range s.store.Keys() {
		if e, ok := s.lookup(key); ok {
			sums = append(sums, summarize(key, e, false))
		}
	}
	c.JSON(http.StatusOK, sums)
}

// POST /databases?name=file.dbc
func (s *Server) createDatabase(c *gin.Context) {
	db, warnings, ok := readDBC(c)
	if !ok {
		return
	}
	name := c.DefaultQuery("name", defaultName)
	key := s.Store(name, db, warnings)
	log.Infof("stored %s as %s, %d message(s)", name, key, len(db.Messages))
	c.JSON(http.StatusCreated, summarize(key, &entry{name: name, db: db, warnings: warnings}, false))
}

func (s *Server) mustLookup(c *gin.Context) (*entry, bool) {
	e, ok := s.lookup(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "database not found"})
	}
	return e, ok
}

// GET /databases/:key
func (s *Server) getDatabase(c *gin.Context) {
	e, ok := s.mustLookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, summarize(c.Param("key"), e, true))
}

// DELETE /databases/:key
func (s *Server) deleteDatabase(c *gin.Context) {
	if _, ok := s.mustLookup(c); !ok {
		return
	}
	s.store.Delete(c.Param("key"))
	c.Status(http.StatusNoContent)
}

// GET /databases/:key/dbc
func (s *Server) exportDatabase(c *gin.Context) {
	e, ok := s.mustLookup(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(dbc.WriteString(e.db)))
}

// GET /databases/:key/validate
func (s *Server) validateDatabase(c *gin.Context) {
	e, ok := s.mustLookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, report.Validate(e.name, e.db, e.warnings))
}

type frameReq struct {
	ID        uint32 `json:"id"`
	Data      string `json:"data"` // 十六进制, 可带空格
	Bus       uint8  `json:"bus"`
	Direction uint8  `json:"d"`
	TimeStamp int64  `json:"t"`
}

// POST /databases/:key/decode[?format=flat]
func (s *Server) decode(c *gin.Context) {
	e, ok := s.mustLookup(c)
	if !ok {
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var reqs []frameReq
	if err = jsoniter.Unmarshal(body, &reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	pdus := make([]can.PDU, 0, len(reqs))
	for _, req := range reqs {
		payload, err := hex.DecodeString(strings.ReplaceAll(req.Data, " ", ""))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload of " + e.name, "id": req.ID})
			return
		}
		pdus = append(pdus, can.PDU{
			Timestamp: req.TimeStamp,
			CanId:     req.ID,
			BusId:     req.Bus,
			Direction: req.Direction,
			Payload:   payload,
		})
	}

	decoded, other := can.NewDecoder(e.db, s.whiteList).DecodeAll(pdus)
	if c.Query("format") == "flat" {
		out, err := can.MarshalFrames(decoded)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if out == nil {
			out = []byte("{}")
		}
		c.Data(http.StatusOK, "application/json", out)
		return
	}

	if decoded == nil {
		decoded = []*can.Frame{}
	}
	lines := []string{}
	if raw := can.MarshalRaw(other); len(raw) > 0 {
		lines = strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	}
	c.JSON(http.StatusOK, gin.H{"frames": decoded, "other": lines})
}

func rspByCode(c *gin.Context, errCode uint, statusCode int) {
	c.JSON(statusCode, whitelist.NewRsp(errCode))
}

// GET /whitelist
func (s *Server) getWhiteList(c *gin.Context) {
	buf, err := s.whiteList.Marshal()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", buf)
}

// POST /whitelist[?db=key], "*" 按 db 展开为报文内全部信号
func (s *Server) setWhiteList(c *gin.Context) {
	all, err := c.GetRawData()
	if err != nil {
		rspByCode(c, whitelist.ReadBodyError, http.StatusInternalServerError)
		return
	}

	req := whitelist.WhiteListReq{}
	if err = jsoniter.Unmarshal(all, &req); err != nil {
		rspByCode(c, whitelist.ParseJsonError, http.StatusUnprocessableEntity)
		return
	}

	var db *dbc.Database
	if key := c.Query("db"); key != "" {
		e, ok := s.lookup(key)
		if !ok {
			rspByCode(c, whitelist.UnknownDatabase, http.StatusNotFound)
			return
		}
		db = e.db
	}

	if code := s.whiteList.Apply(&req, db); code != whitelist.OK {
		rspByCode(c, code, http.StatusUnprocessableEntity)
		return
	}
	rspByCode(c, whitelist.OK, http.StatusOK)
}

func wrongMethod(c *gin.Context) {
	rspByCode(c, whitelist.WrongHttpMethod, http.StatusMethodNotAllowed)
}
