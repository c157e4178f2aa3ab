package dbc

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

var nsKeywords = []string{
	"NS_DESC_", "CM_", "BA_DEF_", "BA_", "VAL_", "CAT_DEF_", "CAT_", "FILTER",
	"BA_DEF_DEF_", "EV_DATA_", "ENVVAR_DATA_", "SGTYPE_", "SGTYPE_VAL_",
	"BA_DEF_SGTYPE_", "BA_SGTYPE_", "SIG_TYPE_REF_", "VAL_TABLE_", "SIG_GROUP_",
	"SIG_VALTYPE_", "SIGTYPE_VALTYPE_", "BO_TX_BU_", "BA_DEF_REL_", "BA_REL_",
	"BA_DEF_DEF_REL_", "BU_SG_REL_", "BU_EV_REL_", "BU_BO_REL_", "SG_MUL_VAL_",
}

// 属性声明, ENUM 取值来自共享枚举表
var attrDefs = []string{
	`BA_DEF_ BO_ "GenMsgCycleTime" INT 0 65535;`,
	`BA_DEF_ BO_ "GenMsgCycleTimeActive" INT 0 65535;`,
	`BA_DEF_ BO_ "GenMsgCycleTimeFast" INT 0 0;`,
	`BA_DEF_ BO_ "GenMsgDelayTime" INT 0 65535;`,
	`BA_DEF_ BO_ "GenMsgNrOfRepetition" INT 0 0;`,
	`BA_DEF_ BO_ "NmMessage" ENUM "No","Yes";`,
	`BA_DEF_ BO_ "DiagRequest" ENUM "No","Yes";`,
	`BA_DEF_ BO_ "DiagResponse" ENUM "No","Yes";`,
	`BA_DEF_ BO_ "GenMsgSendType" ENUM ` + enumList(MessageSendTypes) + `;`,
	`BA_DEF_ BO_ "VFrameFormat" ENUM ` + enumList(FrameFormats) + `;`,
	`BA_DEF_ SG_ "GenSigStartDelayTime" INT 0 100000;`,
	`BA_DEF_ SG_ "GenSigILSupport" ENUM "No","Yes";`,
	`BA_DEF_ SG_ "GenSigInactiveValue" HEX 0 0;`,
	`BA_DEF_ SG_ "GenSigInvalidValue" STRING ;`,
	`BA_DEF_ SG_ "GenSigSNA" STRING ;`,
	`BA_DEF_ SG_ "GenSigSendType" ENUM ` + enumList(SignalSendTypes) + `;`,
	`BA_DEF_ SG_ "GenSigStartValue" FLOAT 0 100000000000;`,
	`BA_DEF_ "BusType" STRING ;`,
	`BA_DEF_ "DocumentTitle" STRING ;`,
	`BA_DEF_ "ProtocolType" STRING ;`,
	`BA_DEF_ "Manufacturer" STRING ;`,
	`BA_DEF_ "DBName" STRING ;`,
	`BA_DEF_ "Baudrate" INT 0 1000000;`,
	`BA_DEF_ "NmType" STRING ;`,
	`BA_DEF_ "VersionYear" INT 2010 2999;`,
	`BA_DEF_ "NmMessageCount" INT 0 255;`,
	`BA_DEF_ BU_ "NodeLayerModules" STRING ;`,
}

var attrDefaults = []string{
	`BA_DEF_DEF_ "GenMsgCycleTime" 0;`,
	`BA_DEF_DEF_ "GenMsgCycleTimeActive" 0;`,
	`BA_DEF_DEF_ "GenMsgCycleTimeFast" 0;`,
	`BA_DEF_DEF_ "GenMsgDelayTime" 0;`,
	`BA_DEF_DEF_ "GenMsgNrOfRepetition" 0;`,
	`BA_DEF_DEF_ "GenMsgSendType" "Cycle";`,
	`BA_DEF_DEF_ "VFrameFormat" "StandardCAN";`,
	`BA_DEF_DEF_ "GenSigStartDelayTime" 0;`,
	`BA_DEF_DEF_ "GenSigILSupport" "Yes";`,
	`BA_DEF_DEF_ "GenSigSNA" "";`,
	`BA_DEF_DEF_ "GenSigSendType" "NoSigSendType";`,
	`BA_DEF_DEF_ "GenSigStartValue" 0;`,
	`BA_DEF_DEF_ "GenSigInactiveValue" 0;`,
	`BA_DEF_DEF_ "GenSigInvalidValue" "";`,
	`BA_DEF_DEF_ "BusType" "";`,
	`BA_DEF_DEF_ "DocumentTitle" "";`,
	`BA_DEF_DEF_ "ProtocolType" "CAN";`,
	`BA_DEF_DEF_ "Manufacturer" "";`,
	`BA_DEF_DEF_ "DBName" "";`,
	`BA_DEF_DEF_ "Baudrate" 500000;`,
	`BA_DEF_DEF_ "NmType" "OSEK";`,
	`BA_DEF_DEF_ "VersionYear" 2019;`,
	`BA_DEF_DEF_ "NmMessageCount" 128;`,
	`BA_DEF_DEF_ "NodeLayerModules" "";`,
}

func enumList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + v + `"`
	}
	return strings.Join(quoted, ",")
}

// WriteFile writes db to path, truncating any existing file.
func WriteFile(path string, db *Database) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create dbc file %s", path)
	}
	if err = Write(f, db); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "close dbc file %s", path)
}

func WriteString(db *Database) string {
	var b strings.Builder
	// strings.Builder never fails
	_ = Write(&b, db)
	return b.String()
}

// Write renders db as DBC text. The output is fully determined by db.
func Write(w io.Writer, db *Database) error {
	out := bufio.NewWriter(w)
	dw := dbcWriter{out: out, db: db}
	dw.write()
	if err := out.Flush(); err != nil {
		return errors.Wrap(err, "write dbc")
	}
	return nil
}

type dbcWriter struct {
	out   *bufio.Writer
	db    *Database
	nodes []string
}

func (w *dbcWriter) put(parts ...string) {
	for _, s := range parts {
		w.out.WriteString(s)
	}
}

func (w *dbcWriter) write() {
	db := w.db
	w.put("VERSION \"", escape(db.Version), "\"\n\n\n")

	w.put("NS_ :\n")
	for _, kw := range nsKeywords {
		w.put("\t", kw, "\n")
	}
	w.put("\n")
	w.put("BS_:\n\n")

	w.writeNodes()
	w.writeValueTables()
	w.writeMessages()

	for _, msg := range db.Messages {
		if len(msg.Receivers) > 0 {
			w.put("BO_TX_BU_ ", msgID(msg), " : ", strings.Join(msg.Receivers, ","), ";\n")
		}
	}
	w.put("\n")

	w.writeComments()
	w.put("\n")

	for _, def := range attrDefs {
		w.put(def, "\n")
	}
	for _, def := range attrDefaults {
		w.put(def, "\n")
	}
	w.put("\n")

	w.writeAttributes()
	w.writeValueDescriptions()
}

// writeNodes 输出 BU_, 节点为已知节点与所有收发节点的并集
func (w *dbcWriter) writeNodes() {
	seen := make(map[string]bool)
	add := func(n string) {
		if n == "" || n == PlaceholderNode || seen[n] {
			return
		}
		seen[n] = true
		w.nodes = append(w.nodes, n)
	}
	for _, n := range w.db.Nodes {
		add(n)
	}
	for _, msg := range w.db.Messages {
		add(msg.Transmitter)
		for _, r := range msg.Receivers {
			add(r)
		}
		for _, sig := range msg.Signals {
			for _, r := range sig.Receivers {
				add(r)
			}
		}
	}

	w.put("BU_:")
	if len(w.nodes) == 0 {
		w.put(" ", PlaceholderNode)
	}
	for _, n := range w.nodes {
		w.put(" ", n)
	}
	w.put("\n\n")
}

func (w *dbcWriter) writeValueTables() {
	if len(w.db.GlobalValueTables) == 0 {
		return
	}
	for _, vt := range w.db.GlobalValueTables {
		w.put("VAL_TABLE_ ", vt.Name)
		for _, k := range sortedKeys(vt.Values) {
			w.put(" ", strconv.FormatInt(k, 10), " \"", escape(vt.Values[k]), "\"")
		}
		w.put(" ;\n")
	}
	w.put("\n")
}

func (w *dbcWriter) writeMessages() {
	for _, msg := range w.db.Messages {
		transmitter := msg.Transmitter
		if transmitter == "" {
			transmitter = PlaceholderNode
			if len(w.nodes) > 0 {
				transmitter = w.nodes[0]
			}
		}
		w.put("\nBO_ ", msgID(msg), " ", msg.Name, ": ", strconv.Itoa(msg.Length), " ", transmitter, "\n")

		sigReceivers := transmitter
		if len(msg.Receivers) > 0 {
			sigReceivers = strings.Join(msg.Receivers, ",")
		}
		for _, sig := range msg.Signals {
			receivers := sigReceivers
			if len(sig.Receivers) > 0 {
				receivers = strings.Join(sig.Receivers, ",")
			}
			order := "0"
			if sig.ByteOrder == Intel {
				order = "1"
			}
			sign := "+"
			if sig.Signed {
				sign = "-"
			}
			w.put(" SG_ ", sig.Name, " : ",
				strconv.Itoa(sig.StartBit), "|", strconv.Itoa(sig.Length), "@", order, sign,
				" (", formatDouble(sig.Factor), ",", formatDouble(sig.Offset), ")",
				" [", formatDouble(sig.Min), "|", formatDouble(sig.Max), "]",
				" \"", escape(sig.Unit), "\" ", receivers, "\n")
		}
	}
	w.put("\n")
}

func (w *dbcWriter) writeComments() {
	for _, msg := range w.db.Messages {
		if msg.Comment != "" {
			w.put("CM_ BO_ ", msgID(msg), " \"", escape(msg.Comment), "\";\n")
		}
		for _, sig := range msg.Signals {
			if sig.Description != "" {
				w.put("CM_ SG_ ", msgID(msg), " ", sig.Name, " \"", escape(sig.Description), "\";\n")
			}
		}
	}
}

func (w *dbcWriter) writeAttributes() {
	db := w.db
	busType := db.BusType
	if busType == "" {
		busType = "CAN"
	}
	w.put("BA_ \"BusType\" \"", escape(busType), "\";\n")
	if db.DocumentTitle != "" {
		w.put("BA_ \"DocumentTitle\" \"", escape(db.DocumentTitle), "\";\n")
	}

	for _, msg := range db.Messages {
		msgAttr := func(name, value string) {
			w.put("BA_ \"", name, "\" BO_ ", msgID(msg), " ", value, ";\n")
		}
		if msg.CycleTime > 0 {
			msgAttr("GenMsgCycleTime", strconv.Itoa(msg.CycleTime))
		}
		if msg.CycleTimeFast > 0 {
			msgAttr("GenMsgCycleTimeFast", strconv.Itoa(msg.CycleTimeFast))
		}
		if msg.NrOfRepetitions > 0 {
			msgAttr("GenMsgNrOfRepetition", strconv.Itoa(msg.NrOfRepetitions))
		}
		if msg.DelayTime > 0 {
			msgAttr("GenMsgDelayTime", strconv.Itoa(msg.DelayTime))
		}
		if msg.FrameFormat != "" || msg.MessageType != "" {
			msgAttr("VFrameFormat", strconv.Itoa(FrameFormatIndex(canonicalFrameFormat(msg))))
		}
		if msg.SendType != "" {
			idx := MessageSendTypeIndex(msg.SendType)
			if idx < 0 {
				log.Warnf("unknown message send type %q of %s, written as %s\n", msg.SendType, msg.Name, MessageSendTypes[0])
				idx = 0
			}
			msgAttr("GenMsgSendType", strconv.Itoa(idx))
		}
	}

	for _, msg := range db.Messages {
		for _, sig := range msg.Signals {
			sigAttr := func(name, value string) {
				w.put("BA_ \"", name, "\" SG_ ", msgID(msg), " ", sig.Name, " ", value, ";\n")
			}
			if sig.SendType != "" {
				idx := SignalSendTypeIndex(sig.SendType)
				if idx < 0 {
					log.Warnf("unknown signal send type %q of %s, written as NoSigSendType\n", sig.SendType, sig.Name)
					idx = SignalSendTypeIndex("NoSigSendType")
				}
				sigAttr("GenSigSendType", strconv.Itoa(idx))
			}
			if sig.InitialValue != 0 {
				sigAttr("GenSigStartValue", formatDouble(sig.InitialValue))
			}
			if sig.InactiveValueHex != "" {
				sigAttr("GenSigSNA", "\""+escape(sig.InactiveValueHex)+"\"")
			}
			if sig.InvalidValueHex != "" {
				sigAttr("GenSigInvalidValue", "\""+escape(sig.InvalidValueHex)+"\"")
			}
		}
	}
}

func (w *dbcWriter) writeValueDescriptions() {
	for _, msg := range w.db.Messages {
		for _, sig := range msg.Signals {
			if len(sig.ValueTable) == 0 {
				continue
			}
			w.put("VAL_ ", msgID(msg), " ", sig.Name)
			for _, k := range sig.SortedValueKeys() {
				w.put(" ", strconv.FormatInt(k, 10), " \"", escape(sig.ValueTable[k]), "\"")
			}
			w.put(";\n")
		}
	}
}

func msgID(msg *Message) string {
	return strconv.FormatUint(uint64(msg.ID), 10)
}

func escape(text string) string {
	text = strings.ReplaceAll(text, "\\", "\\\\")
	return strings.ReplaceAll(text, "\"", "\\\"")
}

// formatDouble 使用与区域设置无关的格式; 极大/极小值用科学计数法, 15位小数, 指数固定3位
func formatDouble(v float64) string {
	abs := math.Abs(v)
	if abs >= 1e10 || (abs > 0 && abs < 1e-6) {
		s := strconv.FormatFloat(v, 'E', 15, 64)
		pos := strings.IndexByte(s, 'E')
		exp, err := strconv.Atoi(s[pos+1:])
		if err != nil {
			return s
		}
		sign := "+"
		if exp < 0 {
			sign = "-"
			exp = -exp
		}
		digits := strconv.Itoa(exp)
		for len(digits) < 3 {
			digits = "0" + digits
		}
		return s[:pos+1] + sign + digits
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
