package whitelist

import (
	"context"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"

	"github.com/yannick-cn/dbc-view/base"
	"github.com/yannick-cn/dbc-view/dbc"
)

var log = base.Logger

const (
	OK uint = iota
	ReadBodyError
	ParseJsonError
	InvalidAction
	WrongHttpMethod
	UnknownDatabase
)

// Action
const (
	Do_ResetWith int = iota + 1
	Do_Add
	Do_Delete
)

var WhiteListCode = map[uint]string{
	OK:              "OK",
	ReadBodyError:   "Read body error",
	ParseJsonError:  "Parse json error",
	InvalidAction:   "Invalid action",
	WrongHttpMethod: "Wrong http method, should use POST",
	UnknownDatabase: "Unknown database",
}

type WhiteListRsp struct {
	StatusCode uint   `json:"statusCode"`
	Reason     string `json:"reason"`
}

func NewRsp(code uint) WhiteListRsp {
	return WhiteListRsp{code, WhiteListCode[code]}
}

type WhiteListReq struct {
	TaskId    int                 `json:"taskId"`
	Action    int                 `json:"action"`
	CanList   map[string][]string `json:"canList"` // 报文id -> 信号名, ["*"] 表示报文内全部信号
	TimeStamp string              `json:"timeStamp"`
}

type WhiteListMap map[uint32]map[string]bool

type WhiteList struct {
	mu           sync.Mutex
	whiteListMap WhiteListMap
	enable       bool
	saveChan     chan struct{}
}

func New(enable bool) *WhiteList {
	return &WhiteList{
		whiteListMap: make(WhiteListMap),
		enable:       enable,
		saveChan:     make(chan struct{}, 1),
	}
}

func (w *WhiteList) SetEnableFlag(enable bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enable = enable
}

func (w *WhiteList) IsEnable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enable
}

func (w *WhiteList) HasMessage(id uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.whiteListMap[id]
	return ok
}

func (w *WhiteList) Contains(id uint32, signal string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if signals, ok := w.whiteListMap[id]; ok {
		return signals[signal]
	}
	return false
}

// Len returns the number of selected messages.
func (w *WhiteList) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.whiteListMap)
}

// Apply executes req. db resolves "*" to the signals of a message and may be nil.
func (w *WhiteList) Apply(req *WhiteListReq, db *dbc.Database) uint {
	w.mu.Lock()
	switch req.Action {
	case Do_ResetWith:
		// 重置清空map
		w.whiteListMap = WhiteListMap{}
		w.innerAdd(req, db)
	case Do_Add:
		w.innerAdd(req, db)
	case Do_Delete:
		w.innerDelete(req, db)
	default:
		w.mu.Unlock()
		return InvalidAction
	}
	w.mu.Unlock()

	// 通知异步保存, 已有待处理的通知时不再重复
	select {
	case w.saveChan <- struct{}{}:
	default:
	}
	return OK
}

func parseCanId(strCanId string) (uint32, bool) {
	canId, err := strconv.ParseUint(strCanId, 0, 32)
	if err != nil {
		log.Errorln(err)
		return 0, false
	}
	return uint32(canId), true
}

func expand(canId uint32, vSignals []string, db *dbc.Database) ([]string, bool) {
	if len(vSignals) != 1 || vSignals[0] != "*" {
		return vSignals, true
	}
	var msg *dbc.Message
	if db != nil {
		msg = db.Message(canId)
	}
	if msg == nil {
		log.Errorf("No dbc data !!! canId(%d)", canId)
		return nil, false
	}
	names := make([]string, 0, len(msg.Signals))
	for _, sig := range msg.Signals {
		names = append(names, sig.Name)
	}
	return names, true
}

func (w *WhiteList) innerAdd(req *WhiteListReq, db *dbc.Database) {
	for strCanId, vSignals := range req.CanList {
		canId, ok := parseCanId(strCanId)
		if !ok {
			continue
		}
		names, ok := expand(canId, vSignals, db)
		if !ok {
			continue
		}

		signals := w.whiteListMap[canId]
		if signals == nil {
			signals = make(map[string]bool)
			w.whiteListMap[canId] = signals
		}
		for _, signal := range names {
			signals[signal] = true
		}
	}
}

func (w *WhiteList) innerDelete(req *WhiteListReq, db *dbc.Database) {
	for strCanId, vSignals := range req.CanList {
		canId, ok := parseCanId(strCanId)
		if !ok {
			continue
		}
		signals, ok := w.whiteListMap[canId]
		if !ok {
			continue
		}
		names, ok := expand(canId, vSignals, db)
		if !ok {
			continue
		}
		for _, signal := range names {
			delete(signals, signal)
		}
		if len(signals) <= 0 {
			delete(w.whiteListMap, canId)
		}
	}
}

// LoadFromFile replaces the list with the content of whiteListFile. The file
// is created when missing; an empty file is an empty list.
func (w *WhiteList) LoadFromFile(whiteListFile string) error {
	if len(whiteListFile) <= 0 {
		return errors.New("WhiteList filename is empty")
	}

	file, err := os.OpenFile(whiteListFile, os.O_RDONLY|os.O_CREATE, 0o666)
	if err != nil {
		return errors.Wrapf(err, "open whitelist %s", whiteListFile)
	}
	defer file.Close()

	m := make(WhiteListMap)
	err = jsoniter.NewDecoder(file).Decode(&m)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "decode whitelist %s", whiteListFile)
	}

	w.mu.Lock()
	w.whiteListMap = m
	w.mu.Unlock()
	return nil
}

func (w *WhiteList) Marshal() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return jsoniter.Marshal(w.whiteListMap)
}

// SaveLoop writes the list to whiteListFile after every change until ctx is done.
func (w *WhiteList) SaveLoop(ctx context.Context, whiteListFile string, wg *sync.WaitGroup) {
	defer wg.Done()

	file, err := os.OpenFile(whiteListFile, os.O_WRONLY|os.O_CREATE, 0o666)
	if err != nil {
		log.Errorln(err)
		return
	}
	defer file.Close()

	for {
		select {
		case <-ctx.Done():
			log.Debugln("whitelist save loop quit")
			return
		case <-w.saveChan:
			w.save(file, whiteListFile)
		}
	}
}

func (w *WhiteList) save(file *os.File, whiteListFile string) {
	buf, err := w.Marshal()
	if err != nil {
		log.Errorln(err)
		return
	}

	if err = file.Truncate(0); err != nil {
		log.Errorln(err)
		return
	}

	n, err := file.WriteAt(buf, 0)
	if err != nil {
		log.Errorf("Write (%s) failed! reason:(%s), has written (%d) bytes \n", whiteListFile, err.Error(), n)
		return
	}
	log.Debugf("%s\nWrite (%s) ok! has written (%d) bytes\n", string(buf), whiteListFile, n)
}
