package dbc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/yannick-cn/dbc-view/base"
)

var log = base.Logger

const (
	kVersion   = "VERSION"
	kNS        = "NS_"
	kBS        = "BS_"
	kBU        = "BU_"
	kValTable  = "VAL_TABLE_"
	kBoTxBu    = "BO_TX_BU_"
	kBO        = "BO_"
	kSG        = "SG_"
	kCM        = "CM_"
	kBaDefDef  = "BA_DEF_DEF_"
	kBaDef     = "BA_DEF_"
	kBA        = "BA_"
	kVAL       = "VAL_"
	quotedExpr = `"((?:[^"\\]|\\.)*)"`
)

// 已知但不需要解析的关键字, 需在 SG_/BA_ 等前缀之前判断
var ignoredKeywords = []string{
	"SG_MUL_VAL_", "SIG_GROUP_", "SIG_VALTYPE_", "SIGTYPE_VALTYPE_", "SIG_TYPE_REF_",
	"SGTYPE_", "BA_DEF_SGTYPE_", "BA_SGTYPE_", "BA_DEF_REL_", "BA_REL_", "BU_SG_REL_",
	"BU_EV_REL_", "BU_BO_REL_", "EV_", "ENVVAR_DATA_", "CAT_DEF_", "CAT_", "FILTER", "NS_DESC_",
}

var (
	reVersion  = regexp.MustCompile(`^VERSION\s+` + quotedExpr)
	reBU       = regexp.MustCompile(`^BU_\s*:(.*)$`)
	reValTable = regexp.MustCompile(`^VAL_TABLE_\s+(\S+)\s*(.*);`)
	reBO       = regexp.MustCompile(`^BO_\s+(\d+)\s+([^:]+):\s*(\d+)\s+(\S+)`)
	reSG       = regexp.MustCompile(`^SG_\s+([^\s:]+)(?:\s+(?:M|m\d+M?))?\s*:\s*(\d+)\|(\d+)@([01])([+-])\s*\(([^,]+),([^)]+)\)\s*\[([^|]+)\|([^\]]+)\]\s*` + quotedExpr + `\s*(.*)$`)
	reBoTxBu   = regexp.MustCompile(`^BO_TX_BU_\s+(\d+)\s*:\s*([^;]*);?`)
	reCmBO     = regexp.MustCompile(`(?s)^CM_\s+BO_\s+(\d+)\s+` + quotedExpr + `\s*;`)
	reCmSG     = regexp.MustCompile(`(?s)^CM_\s+SG_\s+(\d+)\s+(\S+)\s+` + quotedExpr + `\s*;`)
	reCmOther  = regexp.MustCompile(`(?s)^CM_\s+(?:(?:BU_|EV_)\s+\S+\s+)?` + quotedExpr + `\s*;`)
	reBaDefDef = regexp.MustCompile(`^BA_DEF_DEF_\s+"([^"]+)"`)
	reBaDef    = regexp.MustCompile(`^BA_DEF_\s+(?:(BO_|SG_|BU_|EV_)\s+)?"([^"]+)"\s+(\w+)\s*(.*);`)
	reBaMsg    = regexp.MustCompile(`^BA_\s+"([^"]+)"\s+BO_\s+(\d+)\s+("(?:[^"\\]|\\.)*"|[^;]+?)\s*;`)
	reBaSig    = regexp.MustCompile(`^BA_\s+"([^"]+)"\s+SG_\s+(\d+)\s+(\S+)\s+("(?:[^"\\]|\\.)*"|[^;]+?)\s*;`)
	reBaNode   = regexp.MustCompile(`^BA_\s+"([^"]+)"\s+(?:BU_|EV_)\s+(\S+)\s+("(?:[^"\\]|\\.)*"|[^;]+?)\s*;`)
	reBaGlobal = regexp.MustCompile(`^BA_\s+"([^"]+)"\s+("(?:[^"\\]|\\.)*"|[^;\s]+)\s*;`)
	reVAL      = regexp.MustCompile(`^VAL_\s+(\d+)\s+(\S+)\s*(.*);`)
	reValPair  = regexp.MustCompile(`(-?\d+)\s+` + quotedExpr)
	reQuoted   = regexp.MustCompile(quotedExpr)
	reSplitRcv = regexp.MustCompile(`[\s,]+`)
)

// directive 解析后的一行
type directive interface {
	keyword() string
}

type versionLine struct{ version string }

type nodesLine struct{ names []string }

type valTableLine struct{ table ValueTable }

type messageLine struct {
	id          uint32
	name        string
	length      int
	transmitter string
}

type signalLine struct{ sig *Signal }

type txReceiverLine struct {
	id        uint32
	receivers []string
}

type commentLine struct {
	id      uint32
	signal  string // 空表示报文注释
	text    string
	message bool
}

type enumDefLine struct {
	scope  string
	name   string
	values []string
}

type attrLine struct {
	kind   attrKind
	name   string
	scope  string // "", BO_, SG_
	id     uint32
	signal string
	value  string
	quoted bool
}

type valueDescLine struct {
	id     uint32
	signal string
	values map[int64]string
}

type ignoredLine struct{ kw string }

func (versionLine) keyword() string    { return kVersion }
func (nodesLine) keyword() string      { return kBU }
func (valTableLine) keyword() string   { return kValTable }
func (messageLine) keyword() string    { return kBO }
func (signalLine) keyword() string     { return kSG }
func (txReceiverLine) keyword() string { return kBoTxBu }
func (commentLine) keyword() string    { return kCM }
func (enumDefLine) keyword() string    { return kBaDef }
func (attrLine) keyword() string       { return kBA }
func (valueDescLine) keyword() string  { return kVAL }
func (l ignoredLine) keyword() string  { return l.kw }

type Parser struct {
	r        io.Reader
	buf      []string
	err      error
	db       *Database
	current  *Message
	msgEnums map[string][]string
	sigEnums map[string][]string
	warnings []string
}

func NewParser(r io.Reader) *Parser {
	return &Parser{
		r:        r,
		msgEnums: make(map[string][]string),
		sigEnums: make(map[string][]string),
	}
}

// ParseFile opens path and parses it. Only I/O failures are returned as errors.
func ParseFile(path string) (*Database, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open dbc file %s", path)
	}
	defer f.Close()

	p := NewParser(f)
	db, err := p.Parse()
	return db, p.Warnings(), err
}

func ParseString(text string) (*Database, []string) {
	p := NewParser(strings.NewReader(text))
	// strings.Reader never fails
	db, _ := p.Parse()
	return db, p.Warnings()
}

// Parse reads the whole source and builds a Database. Lines that do not match
// their directive are skipped and recorded as warnings.
func (p *Parser) Parse() (*Database, error) {
	input := bufio.NewReader(p.r)

	// read file
	for {
		// read a line
		line, err := input.ReadString('\n')
		if err == io.EOF {
			if line != "" {
				p.buf = append(p.buf, strings.TrimRight(line, "\r\n"))
			}
			var name string
			if f, ok := p.r.(*os.File); ok {
				name = f.Name()
			}
			log.Debugln("read EOF from ", name)
			break
		}

		if err != nil {
			log.Errorln(err)
			p.setErr(errors.Wrap(err, "read dbc"))
			return nil, p.Err()
		}
		p.buf = append(p.buf, strings.TrimRight(line, "\r\n"))
	}

	p.db = NewDatabase()
	p.current = nil
	for idx := 0; idx < len(p.buf); idx++ {
		line := strings.TrimSpace(p.buf[idx])
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		lineNo := idx + 1
		d, ok := p.parseLine(line, &idx)
		if !ok {
			p.warn(lineNo, p.buf[lineNo-1])
			continue
		}
		if d != nil {
			p.apply(d)
		}
	}
	p.finish()
	return p.db, nil
}

func (p *Parser) Warnings() []string {
	return p.warnings
}

func (p *Parser) warn(lineNo int, line string) {
	w := "行号:" + strconv.Itoa(lineNo) + " :" + line
	log.Warnln("dbc line not parsed, ", w)
	p.warnings = append(p.warnings, w)
}

// parseLine turns one trimmed line into a directive. ok is false when the
// line looks like a known directive but does not match its shape; a nil
// directive with ok set means the line carries nothing the model keeps.
func (p *Parser) parseLine(line string, idx *int) (directive, bool) {
	for _, kw := range ignoredKeywords {
		if strings.HasPrefix(line, kw) {
			return ignoredLine{kw}, true
		}
	}
	switch {
	case strings.HasPrefix(line, kVersion):
		return parseVersion(line)
	case strings.HasPrefix(line, kNS):
		p.skipNS(idx)
		return nil, true
	case strings.HasPrefix(line, kBS):
		return ignoredLine{kBS}, true
	case strings.HasPrefix(line, kBU):
		return parseBU(line)
	case strings.HasPrefix(line, kValTable):
		return parseValTable(line)
	case strings.HasPrefix(line, kVAL):
		return parseVal(line)
	case strings.HasPrefix(line, kBoTxBu):
		return parseBoTxBu(line)
	case strings.HasPrefix(line, kBO):
		return parseBO(line)
	case strings.HasPrefix(line, kBaDefDef):
		return ignoredLine{kBaDefDef}, reBaDefDef.MatchString(line)
	case strings.HasPrefix(line, kBaDef):
		return parseBaDef(line)
	case strings.HasPrefix(line, kBA):
		return parseBA(line)
	case strings.HasPrefix(line, kCM):
		return parseCM(p.joinComment(line, idx))
	case strings.HasPrefix(line, kSG):
		return parseSG(line)
	}
	return nil, false
}

// skipNS 跳过 NS_ 块, 直到空行
func (p *Parser) skipNS(curIdx *int) {
	for *curIdx+1 < len(p.buf) {
		next := strings.TrimSpace(p.buf[*curIdx+1])
		if next == "" || strings.HasPrefix(next, kBS) || strings.HasPrefix(next, kBU+":") {
			return
		}
		(*curIdx)++
	}
}

// joinComment 注释可以跨行, 仅在引号未闭合时继续读取后续行.
// 遇到新的关键字行或文件结束仍未闭合时放弃拼接, 返回原行并恢复 curIdx.
func (p *Parser) joinComment(line string, curIdx *int) string {
	if !quoteOpen(line, false) {
		return line
	}
	start := *curIdx
	text := line
	open := true
	for open && *curIdx+1 < len(p.buf) {
		curLine := p.buf[*curIdx+1]
		if isDirective(strings.TrimSpace(curLine)) {
			break
		}
		(*curIdx)++
		text = text + "\n" + curLine
		open = quoteOpen(curLine, open)
	}
	if open {
		*curIdx = start
		return line
	}
	return strings.TrimSpace(text)
}

// quoteOpen 返回扫描 s 之后引号是否仍未闭合, open 为扫描前的状态
func quoteOpen(s string, open bool) bool {
	for i := 0; i < len(s); i++ {
		switch {
		case open && s[i] == '\\':
			i++
		case s[i] == '"':
			open = !open
		}
	}
	return open
}

var directiveKeywords = []string{
	kVersion, kNS, kBS, kBU, kValTable, kVAL, kBoTxBu, kBO, kBaDefDef, kBaDef, kBA, kCM, kSG,
}

// isDirective 判断行首是否为关键字
func isDirective(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	first := strings.TrimSuffix(fields[0], ":")
	for _, kw := range directiveKeywords {
		if first == kw {
			return true
		}
	}
	for _, kw := range ignoredKeywords {
		if first == kw {
			return true
		}
	}
	return false
}

func parseVersion(line string) (directive, bool) {
	m := reVersion.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	return versionLine{unescape(m[1])}, true
}

func parseBU(line string) (directive, bool) {
	m := reBU.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	return nodesLine{strings.Fields(m[1])}, true
}

func parseValTable(line string) (directive, bool) {
	m := reValTable.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	return valTableLine{ValueTable{Name: m[1], Values: parseValuePairs(m[2])}}, true
}

func parseVal(line string) (directive, bool) {
	m := reVAL.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	id, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return nil, false
	}
	return valueDescLine{id: uint32(id), signal: m[2], values: parseValuePairs(m[3])}, true
}

func parseValuePairs(text string) map[int64]string {
	values := make(map[int64]string)
	for _, pair := range reValPair.FindAllStringSubmatch(text, -1) {
		key, err := strconv.ParseInt(pair[1], 10, 64)
		if err != nil {
			continue
		}
		values[key] = unescape(pair[2])
	}
	return values
}

func parseBoTxBu(line string) (directive, bool) {
	m := reBoTxBu.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	id, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return nil, false
	}
	return txReceiverLine{id: uint32(id), receivers: splitReceivers(m[2])}, true
}

func parseBO(line string) (directive, bool) {
	m := reBO.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	id, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return nil, false
	}
	length, _ := strconv.Atoi(m[3])
	return messageLine{
		id:          uint32(id),
		name:        strings.TrimSpace(m[2]),
		length:      length,
		transmitter: m[4],
	}, true
}

func parseSG(line string) (directive, bool) {
	m := reSG.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	sig := NewSignal(m[1])
	sig.StartBit, _ = strconv.Atoi(m[2])
	sig.Length, _ = strconv.Atoi(m[3])
	if m[4] == "1" {
		sig.ByteOrder = Intel
	} else {
		sig.ByteOrder = Motorola
	}
	sig.Signed = m[5] == "-"
	sig.Factor = parseFloat(m[6])
	sig.Offset = parseFloat(m[7])
	sig.Min = parseFloat(m[8])
	sig.Max = parseFloat(m[9])
	sig.Unit = unescape(m[10])
	sig.Receivers = splitReceivers(m[11])
	return signalLine{sig}, true
}

func parseCM(text string) (directive, bool) {
	if m := reCmBO.FindStringSubmatch(text); m != nil {
		id, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return nil, false
		}
		return commentLine{id: uint32(id), text: unescape(m[2]), message: true}, true
	}
	if m := reCmSG.FindStringSubmatch(text); m != nil {
		id, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return nil, false
		}
		return commentLine{id: uint32(id), signal: m[2], text: unescape(m[3])}, true
	}
	// 节点/全局注释不保存
	if reCmOther.MatchString(text) {
		return ignoredLine{kCM}, true
	}
	return nil, false
}

func parseBaDef(line string) (directive, bool) {
	m := reBaDef.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	if m[3] != "ENUM" || (m[1] != kBO && m[1] != kSG) {
		return ignoredLine{kBaDef}, true
	}
	var values []string
	for _, v := range reQuoted.FindAllStringSubmatch(m[4], -1) {
		values = append(values, unescape(v[1]))
	}
	return enumDefLine{scope: m[1], name: m[2], values: values}, true
}

func parseBA(line string) (directive, bool) {
	if m := reBaMsg.FindStringSubmatch(line); m != nil {
		id, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			return nil, false
		}
		return attrLine{kind: attrKindOf(m[1]), name: m[1], scope: kBO, id: uint32(id), value: unquote(m[3])}, true
	}
	if m := reBaSig.FindStringSubmatch(line); m != nil {
		id, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			return nil, false
		}
		return attrLine{kind: attrKindOf(m[1]), name: m[1], scope: kSG, id: uint32(id), signal: m[3], value: unquote(m[4]), quoted: strings.HasPrefix(m[4], "\"")}, true
	}
	if reBaNode.MatchString(line) {
		return ignoredLine{kBA}, true
	}
	if m := reBaGlobal.FindStringSubmatch(line); m != nil {
		return attrLine{kind: attrKindOf(m[1]), name: m[1], value: unquote(m[2])}, true
	}
	return nil, false
}

func (p *Parser) apply(d directive) {
	db := p.db
	switch l := d.(type) {
	case versionLine:
		db.Version = l.version
	case nodesLine:
		for _, n := range l.names {
			db.AddNode(n)
		}
	case valTableLine:
		db.GlobalValueTables = append(db.GlobalValueTables, l.table)
	case messageLine:
		if msg := db.Message(l.id); msg != nil {
			log.Warnf("duplicate BO_ %d (%s), merged into %s\n", l.id, l.name, msg.Name)
			msg.Name, msg.Length, msg.Transmitter = l.name, l.length, l.transmitter
			p.current = msg
			return
		}
		msg := NewMessage(l.id, l.name, l.length, l.transmitter)
		db.AddMessage(msg)
		p.current = msg
	case signalLine:
		if p.current == nil {
			log.Warnln("SG_ without BO_, dropped: ", l.sig.Name)
			return
		}
		if idx := p.current.signalIndex(l.sig.Name); idx >= 0 {
			p.current.Signals[idx] = l.sig
			return
		}
		p.current.AddSignal(l.sig)
	case txReceiverLine:
		if msg := db.Message(l.id); msg != nil {
			msg.Receivers = l.receivers
		}
	case commentLine:
		msg := db.Message(l.id)
		if msg == nil {
			return
		}
		if l.message {
			msg.Comment = l.text
		} else if sig := msg.Signal(l.signal); sig != nil {
			sig.Description = l.text
		}
	case enumDefLine:
		if l.scope == kBO {
			p.msgEnums[l.name] = l.values
		} else {
			p.sigEnums[l.name] = l.values
		}
	case attrLine:
		p.applyAttr(l)
	case valueDescLine:
		if msg := db.Message(l.id); msg != nil {
			if sig := msg.Signal(l.signal); sig != nil {
				sig.ValueTable = l.values
			}
		}
	case ignoredLine:
	}
}

func (p *Parser) applyAttr(l attrLine) {
	db := p.db
	switch l.scope {
	case "":
		switch l.kind {
		case attrDocumentTitle:
			db.DocumentTitle = l.value
		case attrBusType:
			db.BusType = l.value
		}
		return
	case kBO:
		msg := db.Message(l.id)
		if msg == nil {
			return
		}
		switch l.kind {
		case attrMsgCycleTime:
			msg.CycleTime = parseInt(l.value)
		case attrMsgCycleTimeFast:
			msg.CycleTimeFast = parseInt(l.value)
		case attrMsgNrOfRepetitions:
			msg.NrOfRepetitions = parseInt(l.value)
		case attrMsgDelayTime:
			msg.DelayTime = parseInt(l.value)
		case attrMsgSendType:
			msg.SendType = lookupEnum(p.msgEnums, l.name, MessageSendTypes, l.value)
		case attrMsgFrameFormat:
			msg.FrameFormat = lookupEnum(p.msgEnums, l.name, FrameFormats, l.value)
			msg.MessageType = MessageTypeForFrameFormat(msg.FrameFormat)
		}
	case kSG:
		msg := db.Message(l.id)
		if msg == nil {
			return
		}
		sig := msg.Signal(l.signal)
		if sig == nil {
			return
		}
		switch l.kind {
		case attrSigSendType:
			sig.SendType = lookupEnum(p.sigEnums, l.name, SignalSendTypes, l.value)
		case attrSigStartValue:
			sig.InitialValue = parseFloat(l.value)
		case attrSigSNA:
			sig.InactiveValueHex = l.value
		case attrSigInvalidValue:
			// 旧格式写的是十进制数值
			if v, err := strconv.ParseInt(l.value, 10, 64); err == nil && v >= 0 && !l.quoted {
				sig.InvalidValueHex = fmt.Sprintf("0x%X", v)
			} else {
				sig.InvalidValueHex = l.value
			}
		}
	}
}

// lookupEnum resolves an ordinal BA_ value through the BA_DEF_ table of name,
// or the built-in table when the file declared none. Non-numeric or out of
// range values are returned unchanged.
func lookupEnum(tables map[string][]string, name string, fallback []string, value string) string {
	values, ok := tables[name]
	if !ok {
		values = fallback
	}
	idx, err := strconv.Atoi(value)
	if err != nil || idx < 0 || idx >= len(values) {
		return value
	}
	return values[idx]
}

// finish 补全节点列表与总线类型
func (p *Parser) finish() {
	db := p.db
	for _, msg := range db.Messages {
		db.AddNode(msg.Transmitter)
		for _, r := range msg.Receivers {
			db.AddNode(r)
		}
		for _, sig := range msg.Signals {
			for _, r := range sig.Receivers {
				db.AddNode(r)
			}
		}
	}
	if db.BusType == "" {
		db.BusType = db.InferBusType()
	}
}

func splitReceivers(text string) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, ";", ""))
	if text == "" {
		return nil
	}
	var out []string
	for _, r := range reSplitRcv.Split(text, -1) {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int {
	s = strings.TrimSpace(s)
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return int(parseFloat(s))
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") {
		return unescape(s[1 : len(s)-1])
	}
	return s
}

func unescape(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '\\' || s[i+1] == '"') {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Err returns the first non-EOF error that was encountered by the Parser.
func (p *Parser) Err() error {
	if p.err == io.EOF {
		return nil
	}
	return p.err
}

// setErr records the first error encountered.
func (p *Parser) setErr(err error) {
	if p.err == nil || p.err == io.EOF {
		p.err = err
	}
}
