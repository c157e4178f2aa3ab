package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yannick-cn/dbc-view/base"
	"github.com/yannick-cn/dbc-view/report"
	"github.com/yannick-cn/dbc-view/whitelist"
)

const bodyDBC = `BU_: BCM GW
BO_ 291 Body: 8 BCM
 SG_ Door : 7|8@0- (0.5,-10) [-74|53.5] "" GW
 SG_ Speed : 8|16@1+ (0.01,0) [0|655.35] "km/h" GW
BO_ 512 Light: 2 BCM
 SG_ Lamp : 0|2@1+ (1,0) [0|3] "" GW
VAL_ 512 Lamp 0 "Off" 1 "Low" 2 "High";
`

const overlapDBC = `BU_: ECU
BO_ 100 M: 8 ECU
 SG_ A : 0|8@1+ (1,0) [0|255] "" Vector__XXX
 SG_ B : 4|8@1+ (1,0) [0|255] "" Vector__XXX
`

func init() {
	gin.SetMode(gin.TestMode)
}

type recordPublisher struct {
	reports []*report.Report
}

func (p *recordPublisher) Publish(_ context.Context, r *report.Report) error {
	p.reports = append(p.reports, r)
	return nil
}

func newTestServer(wl *whitelist.WhiteList, pub ReportPublisher) *Server {
	cfg := base.NewConfig().HttpServer
	return New(&cfg, wl, pub)
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestPing(t *testing.T) {
	s := newTestServer(nil, nil)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/ping", "").Code)
}

func TestValidate(t *testing.T) {
	pub := &recordPublisher{}
	s := newTestServer(nil, pub)

	w := do(s, http.MethodPost, "/validate?name=m.dbc", overlapDBC)
	require.Equal(t, http.StatusOK, w.Code)

	var r report.Report
	decodeJSON(t, w, &r)
	assert.False(t, r.OK)
	assert.Equal(t, "m.dbc", r.File)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], "位重叠")
	require.Len(t, pub.reports, 1)
	assert.Equal(t, r.Errors, pub.reports[0].Errors)

	w = do(s, http.MethodPost, "/validate", bodyDBC)
	decodeJSON(t, w, &r)
	assert.True(t, r.OK)
	assert.Equal(t, "upload.dbc", r.File)
	assert.Equal(t, 2, r.MessageCount)
	assert.Equal(t, 3, r.SignalCount)
}

func TestFormat(t *testing.T) {
	s := newTestServer(nil, nil)
	w := do(s, http.MethodPost, "/format", bodyDBC)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "BO_ 291 Body: 8 BCM")
	assert.Contains(t, w.Body.String(), `VAL_ 512 Lamp 0 "Off" 1 "Low" 2 "High";`)
}

func TestDatabases(t *testing.T) {
	s := newTestServer(nil, nil)

	w := do(s, http.MethodPost, "/databases?name=body.dbc", bodyDBC)
	require.Equal(t, http.StatusCreated, w.Code)
	var created databaseSummary
	decodeJSON(t, w, &created)
	require.NotEmpty(t, created.Key)
	assert.Equal(t, "body.dbc", created.Name)
	assert.Equal(t, 2, created.MessageCount)
	assert.Equal(t, []string{"BCM", "GW"}, created.Nodes)

	w = do(s, http.MethodGet, "/databases/"+created.Key, "")
	require.Equal(t, http.StatusOK, w.Code)
	var sum databaseSummary
	decodeJSON(t, w, &sum)
	require.Len(t, sum.Messages, 2)
	assert.Equal(t, "Body", sum.Messages[0].Name)
	assert.Equal(t, []string{"Door", "Speed"}, sum.Messages[0].Signals)

	var list []databaseSummary
	decodeJSON(t, do(s, http.MethodGet, "/databases", ""), &list)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Messages)

	w = do(s, http.MethodGet, "/databases/"+created.Key+"/dbc", "")
	assert.Contains(t, w.Body.String(), "BO_ 512 Light: 2 BCM")

	var r report.Report
	decodeJSON(t, do(s, http.MethodGet, "/databases/"+created.Key+"/validate", ""), &r)
	assert.True(t, r.OK)
	assert.Equal(t, "body.dbc", r.File)

	assert.Equal(t, http.StatusNoContent, do(s, http.MethodDelete, "/databases/"+created.Key, "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/databases/"+created.Key, "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodDelete, "/databases/nope", "").Code)
}

func TestStoredDatabaseIsolated(t *testing.T) {
	s := newTestServer(nil, nil)
	w := do(s, http.MethodPost, "/databases", bodyDBC)
	var created databaseSummary
	decodeJSON(t, w, &created)

	e, ok := s.lookup(created.Key)
	require.True(t, ok)
	e.db.RemoveMessage(291)

	again, _ := s.lookup(created.Key)
	assert.NotNil(t, again.db.Message(291))
}

type decodeRsp struct {
	Frames []struct {
		ID      uint32 `json:"id"`
		Name    string `json:"name"`
		Signals []struct {
			Name     string  `json:"name"`
			Raw      int64   `json:"raw"`
			Physical float64 `json:"phys"`
			Desc     string  `json:"desc"`
		} `json:"signals"`
	} `json:"frames"`
	Other []string `json:"other"`
}

func TestDecode(t *testing.T) {
	wl := whitelist.New(false)
	s := newTestServer(wl, nil)
	var created databaseSummary
	decodeJSON(t, do(s, http.MethodPost, "/databases", bodyDBC), &created)
	target := "/databases/" + created.Key + "/decode"

	frames := `[{"id":291,"data":"FE 10 27 00 00 00 00 00","t":5},{"id":512,"data":"0200","d":1,"t":6}]`
	w := do(s, http.MethodPost, target, frames)
	require.Equal(t, http.StatusOK, w.Code)
	var rsp decodeRsp
	decodeJSON(t, w, &rsp)
	require.Len(t, rsp.Frames, 2)
	assert.Equal(t, "Body", rsp.Frames[0].Name)
	assert.Equal(t, -11.0, rsp.Frames[0].Signals[0].Physical)
	assert.Equal(t, "High", rsp.Frames[1].Signals[0].Desc)
	assert.Empty(t, rsp.Other)

	// 白名单只保留 Body.Speed
	wl.SetEnableFlag(true)
	w = do(s, http.MethodPost, "/whitelist", `{"action":1,"canList":{"291":["Speed"]}}`)
	require.Equal(t, http.StatusOK, w.Code)

	rsp = decodeRsp{}
	decodeJSON(t, do(s, http.MethodPost, target, frames), &rsp)
	require.Len(t, rsp.Frames, 1)
	require.Len(t, rsp.Frames[0].Signals, 1)
	assert.Equal(t, "Speed", rsp.Frames[0].Signals[0].Name)
	assert.Equal(t, []string{"6 512 0 Tx d 2 02 00"}, rsp.Other)

	w = do(s, http.MethodPost, target+"?format=flat", frames)
	var flat map[string]any
	decodeJSON(t, w, &flat)
	assert.Equal(t, 5.0, flat["ts"])
	assert.Contains(t, flat, "Body")

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, target, `[{"id":291,"data":"zz"}]`).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, target, `{`).Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodPost, "/databases/nope/decode", frames).Code)
}

func TestWhiteList(t *testing.T) {
	wl := whitelist.New(true)
	s := newTestServer(wl, nil)
	var created databaseSummary
	decodeJSON(t, do(s, http.MethodPost, "/databases", bodyDBC), &created)

	w := do(s, http.MethodPost, "/whitelist?db="+created.Key, `{"taskId":1,"action":2,"canList":{"291":["*"]}}`)
	require.Equal(t, http.StatusOK, w.Code)
	var rsp whitelist.WhiteListRsp
	decodeJSON(t, w, &rsp)
	assert.Equal(t, whitelist.NewRsp(whitelist.OK), rsp)
	assert.True(t, wl.Contains(291, "Door"))
	assert.True(t, wl.Contains(291, "Speed"))

	var m whitelist.WhiteListMap
	decodeJSON(t, do(s, http.MethodGet, "/whitelist", ""), &m)
	assert.Equal(t, whitelist.WhiteListMap{291: {"Door": true, "Speed": true}}, m)

	w = do(s, http.MethodPost, "/whitelist", `{"action":7}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	decodeJSON(t, w, &rsp)
	assert.Equal(t, whitelist.InvalidAction, rsp.StatusCode)

	w = do(s, http.MethodPost, "/whitelist", `not json`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	decodeJSON(t, w, &rsp)
	assert.Equal(t, whitelist.ParseJsonError, rsp.StatusCode)

	w = do(s, http.MethodPost, "/whitelist?db=nope", `{"action":2}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodPut, "/whitelist", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	decodeJSON(t, w, &rsp)
	assert.Equal(t, whitelist.WrongHttpMethod, rsp.StatusCode)
}
