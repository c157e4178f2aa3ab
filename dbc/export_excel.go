package dbc

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"
)

// ExportExcel writes db as a workbook with a cover, a change history and a
// data sheet; ImportExcel reads it back.
func ExportExcel(path string, db *Database) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetCover); err != nil {
		return errors.Wrap(err, "rename cover sheet")
	}
	if _, err := f.NewSheet(SheetHistory); err != nil {
		return errors.Wrap(err, "create history sheet")
	}
	dataIdx, err := f.NewSheet(SheetData)
	if err != nil {
		return errors.Wrap(err, "create data sheet")
	}

	ew := &excelWriter{f: f}
	ew.writeCover(db.DocumentTitle)
	ew.writeHistory(db.ChangeHistory)
	ew.writeData(db)
	if ew.err != nil {
		return ew.err
	}

	f.SetActiveSheet(dataIdx)
	if err := f.SaveAs(path); err != nil {
		log.Errorln(err)
		return errors.Wrapf(err, "save excel %s", path)
	}
	return nil
}

// excelWriter 记录第一个错误, 之后的写入全部跳过
type excelWriter struct {
	f   *excelize.File
	err error
}

func (w *excelWriter) check(err error) {
	if w.err == nil && err != nil {
		w.err = errors.Wrap(err, "write excel")
	}
}

func (w *excelWriter) set(sheet string, col, row int, value interface{}) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.check(err)
		return
	}
	w.check(w.f.SetCellValue(sheet, cell, value))
}

func (w *excelWriter) style(s *excelize.Style) int {
	if w.err != nil {
		return 0
	}
	id, err := w.f.NewStyle(s)
	w.check(err)
	return id
}

func (w *excelWriter) styleRange(sheet string, fromCol, fromRow, toCol, toRow, styleID int) {
	if w.err != nil {
		return
	}
	from, err := excelize.CoordinatesToCellName(fromCol, fromRow)
	w.check(err)
	to, err := excelize.CoordinatesToCellName(toCol, toRow)
	w.check(err)
	if w.err == nil {
		w.check(w.f.SetCellStyle(sheet, from, to, styleID))
	}
}

func (w *excelWriter) writeCover(title string) {
	titleStyle := w.style(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 20},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	w.set(SheetCover, 1, 1, strings.TrimSpace(title))
	if w.err != nil {
		return
	}
	w.check(w.f.SetColWidth(SheetCover, "A", "H", 14))
	w.check(w.f.MergeCell(SheetCover, "A1", "H16"))
	w.styleRange(SheetCover, 1, 1, 8, 16, titleStyle)
}

func (w *excelWriter) writeHistory(history []ChangeHistoryEntry) {
	headerStyle := w.style(headerStyle())
	for i, h := range HistoryHeaders {
		w.set(SheetHistory, i+1, 1, h)
	}
	w.styleRange(SheetHistory, 1, 1, len(HistoryHeaders), 1, headerStyle)
	for i, e := range history {
		row := i + 2
		for col, v := range []string{e.SerialNumber, e.ProtocolVersion, e.ChangeContent, e.Changer, e.ChangeDate, e.Reviewer} {
			w.set(SheetHistory, col+1, row, v)
		}
	}
	if w.err == nil {
		w.check(w.f.SetColWidth(SheetHistory, "A", "F", 14))
		w.check(w.f.SetColWidth(SheetHistory, "C", "C", 48))
	}
}

func headerStyle() *excelize.Style {
	return &excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	}
}

func (w *excelWriter) writeData(db *Database) {
	hs := w.style(headerStyle())
	msgStyle := w.style(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#FFF2CC"}},
	})
	for col, label := range HeaderLabels {
		w.set(SheetData, col+1, 1, label)
	}
	w.styleRange(SheetData, 1, 1, ExcelMaxColumn, 1, hs)

	row := 1
	for _, msg := range db.Messages {
		row++
		w.writeMessageRow(row, msg, db.BusType)
		w.styleRange(SheetData, 1, row, ExcelMaxColumn, row, msgStyle)
		for _, sig := range msg.Signals {
			row++
			w.writeSignalRow(row, sig)
			if w.err == nil {
				w.check(w.f.SetRowOutlineLevel(SheetData, row, 1))
			}
		}
	}

	if w.err == nil {
		w.check(w.f.SetColWidth(SheetData, "A", "F", 22))
		w.check(w.f.SetColWidth(SheetData, "G", "AC", 24))
		w.check(w.f.SetPanes(SheetData, &excelize.Panes{
			Freeze:      true,
			XSplit:      6,
			YSplit:      1,
			TopLeftCell: "G2",
			ActivePane:  "bottomRight",
		}))
	}
}

func (w *excelWriter) writeMessageRow(row int, msg *Message, busType string) {
	msgType := msg.MessageType
	if msgType == "" {
		msgType = msg.FrameFormat
	}
	if msgType == "" {
		msgType = TypeCANStandard
		if strings.Contains(strings.ToUpper(busType), "FD") {
			msgType = TypeCANFDStandard
		}
	}
	w.set(SheetData, ColMsgName, row, msg.Name)
	w.set(SheetData, ColMsgType, row, msgType)
	w.set(SheetData, ColMsgID, row, msg.FormattedID())
	w.set(SheetData, ColMsgSendType, row, msg.SendType)
	w.set(SheetData, ColMsgCycleTime, row, msg.CycleTime)
	w.set(SheetData, ColMsgLength, row, msg.Length)
	w.set(SheetData, ColSignalDesc, row, msg.Comment)
	w.set(SheetData, ColMsgCycleTimeFast, row, msg.CycleTimeFast)
	w.set(SheetData, ColMsgNrOfRepetition, row, msg.NrOfRepetitions)
	w.set(SheetData, ColMsgDelayTime, row, msg.DelayTime)
	w.set(SheetData, ColNode, row, msg.Transmitter)
}

func (w *excelWriter) writeSignalRow(row int, sig *Signal) {
	byteOrder := motorolaMSB
	if sig.ByteOrder == Intel {
		byteOrder = intelLSB
	}
	dataType := "unsigned"
	if sig.Signed {
		dataType = "signed"
	}
	rawMin := sig.PhysicalToRawMasked(sig.Min)
	rawMax := sig.PhysicalToRawMasked(sig.Max)
	if sig.HasRawRange {
		rawMin = uint64(roundToInt64(sig.RawMin)) & MaskForLength(sig.Length)
		rawMax = uint64(roundToInt64(sig.RawMax)) & MaskForLength(sig.Length)
	}

	w.set(SheetData, ColSignalName, row, sig.Name)
	w.set(SheetData, ColSignalDesc, row, sig.Description)
	w.set(SheetData, ColByteOrder, row, byteOrder)
	w.set(SheetData, ColStartByte, row, sig.StartBit/8)
	w.set(SheetData, ColStartBit, row, sig.StartBit%8)
	w.set(SheetData, ColSignalSendType, row, sig.SendType)
	w.set(SheetData, ColSignalLength, row, sig.Length)
	w.set(SheetData, ColDataType, row, dataType)
	w.set(SheetData, ColResolution, row, sig.Factor)
	w.set(SheetData, ColOffset, row, sig.Offset)
	w.set(SheetData, ColPhysMin, row, sig.Min)
	w.set(SheetData, ColPhysMax, row, sig.Max)
	w.set(SheetData, ColRawMin, row, formatHex(rawMin))
	w.set(SheetData, ColRawMax, row, formatHex(rawMax))
	w.set(SheetData, ColInitialValue, row, formatHex(sig.InitialRawMasked()))
	w.set(SheetData, ColInvalidValue, row, sig.InvalidValueHex)
	w.set(SheetData, ColInactiveValue, row, sig.InactiveValueHex)
	w.set(SheetData, ColUnit, row, sig.Unit)
	w.set(SheetData, ColValueDesc, row, formatValueLines(sig))
	w.set(SheetData, ColNode, row, strings.Join(sig.Receivers, ","))
}

func formatHex(v uint64) string {
	return "0x" + strings.ToUpper(strconv.FormatUint(v, 16))
}

// formatValueLines 每行一个 "0xK: 描述"
func formatValueLines(sig *Signal) string {
	lines := make([]string, 0, len(sig.ValueTable))
	for _, k := range sig.SortedValueKeys() {
		key := strconv.FormatInt(k, 10)
		if k >= 0 {
			key = formatHex(uint64(k))
		}
		lines = append(lines, key+": "+sig.ValueTable[k])
	}
	return strings.Join(lines, "\n")
}
