package dbc

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"
)

// 报文数据表的列, 从1开始, 与Excel列号一致
const (
	ColMsgName = iota + 1
	ColMsgType
	ColMsgID
	ColMsgSendType
	ColMsgCycleTime
	ColMsgLength
	ColSignalName
	ColSignalDesc
	ColByteOrder
	ColStartByte
	ColStartBit
	ColSignalSendType
	ColSignalLength
	ColDataType
	ColResolution
	ColOffset
	ColPhysMin
	ColPhysMax
	ColRawMin
	ColRawMax
	ColInitialValue
	ColInvalidValue
	ColInactiveValue
	ColUnit
	ColValueDesc
	ColMsgCycleTimeFast
	ColMsgNrOfRepetition
	ColMsgDelayTime
	ColNode
	ExcelMaxColumn = ColNode
)

const (
	SheetCover   = "主页"
	SheetHistory = "变更履历"
	SheetData    = "报文数据"

	excelVersion = "Generated by Excel Import"
	motorolaMSB  = "Motorola MSB"
	intelLSB     = "Intel LSB"
)

var ErrBadHeader = errors.New("unexpected spreadsheet header")

var HeaderLabels = [ExcelMaxColumn]string{
	"Msg Name\n报文名称",
	"Msg Type\n报文类型",
	"Msg ID\n报文标识符",
	"Msg Send Type\n报文发送类型",
	"Msg Cycle Time (ms)\n报文周期时间",
	"Msg Length (Byte)\n报文长度",
	"Signal Name\n信号名称",
	"Signal Description\n信号描述",
	"Byte Order\n排列格式(Intel/Motorola)",
	"Start Byte\n起始字节",
	"Start Bit\n起始位",
	"Signal Send Type\n信号发送类型",
	"Signal Length (Bit)\n信号长度",
	"Date Type\n数据类型",
	"Resolution\n精度",
	"Offset\n偏移量",
	"Signal Min. Value (Phys)\n物理最小值",
	"Signal Max. Value (Phys)\n物理最大值",
	"Signal Min. Value (Hex)\n总线最小值",
	"Signal Max. Value (Hex)\n总线最大值",
	"Initial Value (Hex)\n初始值",
	"Invalid Value (Hex)\n无效值",
	"Inactive Value (Hex)\n非使能值",
	"Unit\n单位",
	"Signal Value Description\n信号值描述",
	"Msg Cycle Time Fast(ms)\n报文发送的快速周期(ms)",
	"Msg Nr. Of Repetition\n报文快速发送的次数",
	"Msg Delay Time(ms)\n报文延时时间",
	"ADC",
}

var HistoryHeaders = []string{"序号", "协议版本", "变更内容", "变更人", "变更日期", "审核人"}

var reSplitNodes = regexp.MustCompile(`[,\s]+`)

// excelRow 按1开始的列号取单元格
type excelRow []string

func (r excelRow) cell(col int) string {
	if col < 1 || col > len(r) {
		return ""
	}
	return strings.TrimSpace(r[col-1])
}

func (r excelRow) raw(col int) string {
	if col < 1 || col > len(r) {
		return ""
	}
	return r[col-1]
}

func (r excelRow) intAt(col int) int {
	return parseInt(r.cell(col))
}

func (r excelRow) floatAt(col int) float64 {
	return parseFloat(r.cell(col))
}

// ImportExcel reads a workbook written by ExportExcel (or by hand in the same
// layout). With three sheets they are cover, change history and data; with two,
// cover and data; a single sheet holds the data.
func ImportExcel(path string) (*ImportResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		log.Errorln(err)
		return nil, errors.Wrapf(err, "open excel %s", path)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.Wrapf(ErrBadHeader, "%s has no sheet", path)
	}

	getRows := func(sheet string) ([]excelRow, error) {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, errors.Wrapf(err, "read sheet %s", sheet)
		}
		out := make([]excelRow, len(rows))
		for i, row := range rows {
			out[i] = row
		}
		return out, nil
	}

	result := &ImportResult{}
	var table []excelRow
	switch {
	case len(sheets) >= 3:
		cover, err := getRows(sheets[0])
		if err != nil {
			return nil, err
		}
		result.DocumentTitle = titleFromCover(cover)
		history, err := getRows(sheets[1])
		if err != nil {
			return nil, err
		}
		result.ChangeHistory = parseHistory(history)
		if table, err = getRows(sheets[2]); err != nil {
			return nil, err
		}
	case len(sheets) == 2:
		cover, err := getRows(sheets[0])
		if err != nil {
			return nil, err
		}
		result.DocumentTitle = titleFromCover(cover)
		if table, err = getRows(sheets[1]); err != nil {
			return nil, err
		}
		// 第一个表就是数据表
		if findHeaderRow(table) < 0 {
			table = cover
			result.DocumentTitle = ""
		}
	default:
		if table, err = getRows(sheets[0]); err != nil {
			return nil, err
		}
	}

	headerIdx := findHeaderRow(table)
	if headerIdx < 0 {
		first := "(empty)"
		if len(table) > 0 && table[0].cell(1) != "" {
			first = table[0].cell(1)
		}
		return nil, errors.Wrapf(ErrBadHeader, "column 1: %s", first)
	}
	header := table[headerIdx]
	for col := 1; col <= ExcelMaxColumn; col++ {
		if normalizeHeader(header.raw(col)) != normalizeHeader(HeaderLabels[col-1]) {
			got := header.cell(col)
			if got == "" {
				got = "(empty)"
			}
			return nil, errors.Wrapf(ErrBadHeader, "column %d: %s", col, got)
		}
	}

	var current *Message
	var nodes []string
	addNode := func(n string) {
		if n == "" {
			return
		}
		for _, existing := range nodes {
			if existing == n {
				return
			}
		}
		nodes = append(nodes, n)
	}

	for _, row := range table[headerIdx+1:] {
		signalName := row.cell(ColSignalName)
		// 报文行: 有报文长度且无信号名; 合并单元格不会把信号行误判为报文行
		if row.cell(ColMsgLength) != "" && signalName == "" {
			current = messageFromRow(row)
			addNode(current.Transmitter)
			result.Messages = append(result.Messages, current)
			continue
		}
		if signalName == "" || current == nil {
			continue
		}
		sig := signalFromRow(row)
		for _, r := range sig.Receivers {
			addNode(r)
		}
		current.AddSignal(sig)
	}

	result.Nodes = nodes
	finishImport(result)
	return result, nil
}

func messageFromRow(row excelRow) *Message {
	msg := &Message{Name: row.cell(ColMsgName)}
	if t := row.cell(ColMsgType); t != "" {
		msg.MessageType, msg.FrameFormat = NormalizeMessageType(t)
	}
	if id, ok := parseHexUint(row.cell(ColMsgID)); ok {
		msg.ID = uint32(id)
	}
	msg.SendType = normalizeSendType(row.cell(ColMsgSendType), MessageSendTypes)
	msg.CycleTime = row.intAt(ColMsgCycleTime)
	msg.Length = row.intAt(ColMsgLength)
	msg.Comment = row.raw(ColSignalDesc)
	msg.CycleTimeFast = row.intAt(ColMsgCycleTimeFast)
	msg.NrOfRepetitions = row.intAt(ColMsgNrOfRepetition)
	msg.DelayTime = row.intAt(ColMsgDelayTime)
	msg.Transmitter = row.cell(ColNode)
	return msg
}

func signalFromRow(row excelRow) *Signal {
	sig := NewSignal(row.cell(ColSignalName))
	sig.Description = row.raw(ColSignalDesc)
	if strings.Contains(strings.ToLower(row.cell(ColByteOrder)), "intel") {
		sig.ByteOrder = Intel
	} else {
		sig.ByteOrder = Motorola
	}
	sig.StartBit = row.intAt(ColStartByte)*8 + row.intAt(ColStartBit)
	sig.SendType = normalizeSendType(row.cell(ColSignalSendType), SignalSendTypes)
	sig.Length = row.intAt(ColSignalLength)
	dataType := strings.ToLower(row.cell(ColDataType))
	sig.Signed = strings.Contains(dataType, "signed") && !strings.Contains(dataType, "unsigned")
	sig.Factor = row.floatAt(ColResolution)
	sig.Offset = row.floatAt(ColOffset)
	sig.Min = row.floatAt(ColPhysMin)
	sig.Max = row.floatAt(ColPhysMax)

	rawMin, okMin := parseHexUint(row.cell(ColRawMin))
	rawMax, okMax := parseHexUint(row.cell(ColRawMax))
	if okMin && okMax && row.cell(ColRawMin) != "" && row.cell(ColRawMax) != "" {
		sig.RawMin = float64(signExtend(rawMin, sig.Length, sig.Signed))
		sig.RawMax = float64(signExtend(rawMax, sig.Length, sig.Signed))
		sig.HasRawRange = true
	}
	if initRaw, ok := parseHexUint(row.cell(ColInitialValue)); ok {
		sig.InitialValue = float64(signExtend(initRaw, sig.Length, sig.Signed))
	}
	sig.InvalidValueHex = row.cell(ColInvalidValue)
	sig.InactiveValueHex = row.cell(ColInactiveValue)
	sig.Unit = row.cell(ColUnit)
	if recv := row.cell(ColNode); recv != "" {
		sig.Receivers = reSplitNodes.Split(recv, -1)
	}
	sig.ValueTable = parseValueLines(row.raw(ColValueDesc))
	return sig
}

// finishImport 推断总线类型, 补全缺省的帧格式
func finishImport(result *ImportResult) {
	result.Version = excelVersion
	result.BusType = "CAN"
	for _, msg := range result.Messages {
		mt := strings.ToUpper(msg.MessageType)
		if strings.Contains(mt, "CANFD") || strings.Contains(mt, "CAN FD") || msg.Length > 8 {
			result.BusType = "CAN FD"
			break
		}
	}
	for _, msg := range result.Messages {
		if msg.MessageType != "" || msg.FrameFormat != "" {
			continue
		}
		if result.BusType == "CAN FD" {
			msg.MessageType, msg.FrameFormat = TypeCANFDStandard, FrameStandardCANFD
		} else {
			msg.MessageType, msg.FrameFormat = TypeCANStandard, FrameStandardCAN
		}
	}
}

func parseValueLines(text string) map[int64]string {
	text = strings.ReplaceAll(text, "\r", "\n")
	var values map[int64]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		key, ok := parseHexValue(line[:colon])
		if !ok {
			continue
		}
		if values == nil {
			values = make(map[int64]string)
		}
		values[key] = strings.TrimSpace(line[colon+1:])
	}
	return values
}

func normalizeSendType(value string, choices []string) string {
	if idx := indexOfFold(choices, value); idx >= 0 {
		return choices[idx]
	}
	return value
}

// parseHexUint 空文本视为0
func parseHexUint(text string) (uint64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, true
	}
	if len(text) > 2 && strings.EqualFold(text[:2], "0x") {
		v, err := strconv.ParseUint(text[2:], 16, 64)
		return v, err == nil
	}
	v, err := strconv.ParseUint(text, 10, 64)
	return v, err == nil
}

func signExtend(raw uint64, length int, signed bool) int64 {
	if !signed || length <= 0 || length >= 64 {
		return int64(raw)
	}
	raw &= MaskForLength(length)
	if raw&(uint64(1)<<uint(length-1)) != 0 {
		raw |= ^MaskForLength(length)
	}
	return int64(raw)
}

func findHeaderRow(table []excelRow) int {
	first := normalizeHeader(HeaderLabels[0])
	for i, row := range table {
		col1 := normalizeHeader(row.raw(1))
		if col1 == first || (strings.Contains(col1, "Msg Name") && strings.Contains(col1, "报文名称")) {
			return i
		}
	}
	return -1
}

func normalizeHeader(cell string) string {
	s := strings.TrimSpace(strings.ReplaceAll(cell, "\r", "\n"))
	for strings.Contains(s, "\n\n") {
		s = strings.ReplaceAll(s, "\n\n", "\n")
	}
	return s
}

func titleFromCover(rows []excelRow) string {
	var lines []string
	for _, row := range rows {
		cell := strings.ReplaceAll(row.cell(1), "\r", "\n")
		for _, part := range strings.Split(cell, "\n") {
			if p := strings.TrimSpace(part); p != "" {
				lines = append(lines, p)
			}
		}
	}
	return strings.Join(lines, "\n")
}

func parseHistory(rows []excelRow) []ChangeHistoryEntry {
	var entries []ChangeHistoryEntry
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if row.cell(1) == "" && row.cell(2) == "" {
			continue
		}
		entries = append(entries, ChangeHistoryEntry{
			SerialNumber:    row.cell(1),
			ProtocolVersion: row.cell(2),
			ChangeContent:   row.cell(3),
			Changer:         row.cell(4),
			ChangeDate:      row.cell(5),
			Reviewer:        row.cell(6),
		})
	}
	return entries
}
