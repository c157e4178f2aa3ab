package dbc

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const engineDBC = "BO_ 100 Engine: 8 ECU\n SG_ RPM : 0|16@1+ (0.25,0) [0|16383.75] \"rpm\" Vector__XXX"

func TestParseEngine(t *testing.T) {
	db, warnings := ParseString(engineDBC)
	require.Empty(t, warnings)
	require.Len(t, db.Messages, 1)

	msg := db.Message(100)
	require.NotNil(t, msg)
	assert.Equal(t, "Engine", msg.Name)
	assert.Equal(t, 8, msg.Length)
	assert.Equal(t, "ECU", msg.Transmitter)
	require.Len(t, msg.Signals, 1)

	sig := msg.Signals[0]
	assert.Equal(t, "RPM", sig.Name)
	assert.Equal(t, 0, sig.StartBit)
	assert.Equal(t, 16, sig.Length)
	assert.Equal(t, Intel, sig.ByteOrder)
	assert.False(t, sig.Signed)
	assert.Equal(t, 0.25, sig.Factor)
	assert.Equal(t, 16383.75, sig.Max)
	assert.Equal(t, "rpm", sig.Unit)
	assert.Equal(t, []string{PlaceholderNode}, sig.Receivers)

	assert.Equal(t, []string{"ECU"}, db.Nodes)
	assert.Equal(t, "CAN", db.BusType)
}

func TestParseEngineRewrite(t *testing.T) {
	db, _ := ParseString(engineDBC)
	first := WriteString(db)
	assert.Contains(t, first, "\nBO_ 100 Engine: 8 ECU\n")
	assert.Contains(t, first, "\n SG_ RPM : 0|16@1+ (0.25,0) [0|16383.75] \"rpm\" Vector__XXX\n")

	again, warnings := ParseString(first)
	require.Empty(t, warnings)
	assert.Equal(t, first, WriteString(again))
	assert.Equal(t, db, again)
}

const directivesDBC = `VERSION "2.1"


NS_ :
	NS_DESC_
	CM_
	BA_DEF_

BS_:

BU_: ECU GW IC
VAL_TABLE_ Gear 0 "P" 1 "R" 2 "N" 3 "D" ;

BO_ 256 Powertrain: 8 ECU
 SG_ Mux M : 0|8@1+ (1,0) [0|255] "" GW
 SG_ Gear m1 : 15|4@0+ (1,0) [0|15] "" GW,IC
 SG_ Temp m2 : 8|8@1- (0.5,-40) [-104|23.5] "degC" GW IC

BO_TX_BU_ 256 : GW,IC;

CM_ "database comment";
CM_ BU_ ECU "engine controller";
CM_ BO_ 256 "powertrain status";
CM_ SG_ 256 Gear "line one
line \"two\"";
BA_DEF_ BO_ "GenMsgCycleTime" INT 0 65535;
BA_DEF_ BO_ "GenMsgSendType" ENUM "Cycle","OnChange","OnWrite";
BA_DEF_ SG_ "GenSigSendType" ENUM "Cyclic","OnWrite";
BA_DEF_ "BusType" STRING ;
BA_DEF_DEF_ "GenMsgCycleTime" 0;
BA_ "BusType" "CAN FD";
BA_ "DocumentTitle" "Powertrain \"PT\"";
BA_ "NodeLayerModules" BU_ ECU "x.dll";
BA_ "GenMsgCycleTime" BO_ 256 100;
BA_ "GenMsgCycleTimeFast" BO_ 256 10.0;
BA_ "GenMsgSendType" BO_ 256 1;
BA_ "VFrameFormat" BO_ 256 15;
BA_ "GenSigSendType" SG_ 256 Gear 1;
BA_ "GenSigStartValue" SG_ 256 Temp 80;
BA_ "GenSigSNA" SG_ 256 Temp "0xFE";
BA_ "GenSigInvalidValue" SG_ 256 Temp 255;
BA_ "GenSigInvalidValue" SG_ 256 Gear -1;
BA_ "Unknown" SG_ 256 Gear 5;
VAL_ 256 Gear 0 "Park" 1 "Reverse" 15 "Invalid \"x\"";
SIG_VALTYPE_ 256 Temp : 1;
SG_MUL_VAL_ 256 Gear Mux 1-1;
`

func TestParseDirectives(t *testing.T) {
	db, warnings := ParseString(directivesDBC)
	require.Empty(t, warnings)

	assert.Equal(t, "2.1", db.Version)
	assert.Equal(t, "CAN FD", db.BusType)
	assert.Equal(t, `Powertrain "PT"`, db.DocumentTitle)
	assert.Equal(t, []string{"ECU", "GW", "IC"}, db.Nodes)
	require.Len(t, db.GlobalValueTables, 1)
	assert.Equal(t, "Gear", db.GlobalValueTables[0].Name)
	assert.Equal(t, map[int64]string{0: "P", 1: "R", 2: "N", 3: "D"}, db.GlobalValueTables[0].Values)

	msg := db.Message(256)
	require.NotNil(t, msg)
	assert.Equal(t, []string{"GW", "IC"}, msg.Receivers)
	assert.Equal(t, "powertrain status", msg.Comment)
	assert.Equal(t, 100, msg.CycleTime)
	assert.Equal(t, 10, msg.CycleTimeFast)
	assert.Equal(t, "OnChange", msg.SendType)
	assert.Equal(t, FrameExtendedCANFD, msg.FrameFormat)
	assert.Equal(t, TypeCANFDExtended, msg.MessageType)
	require.Len(t, msg.Signals, 3)

	gear := msg.Signal("Gear")
	require.NotNil(t, gear)
	assert.Equal(t, Motorola, gear.ByteOrder)
	assert.Equal(t, []string{"GW", "IC"}, gear.Receivers)
	assert.Equal(t, "line one\nline \"two\"", gear.Description)
	assert.Equal(t, "OnWrite", gear.SendType)
	assert.Equal(t, "-1", gear.InvalidValueHex)
	assert.Equal(t, map[int64]string{0: "Park", 1: "Reverse", 15: `Invalid "x"`}, gear.ValueTable)

	temp := msg.Signal("Temp")
	require.NotNil(t, temp)
	assert.True(t, temp.Signed)
	assert.Equal(t, 0.5, temp.Factor)
	assert.Equal(t, -40.0, temp.Offset)
	assert.Equal(t, -104.0, temp.Min)
	assert.Equal(t, []string{"GW", "IC"}, temp.Receivers)
	assert.Equal(t, 80.0, temp.InitialValue)
	assert.Equal(t, "0xFE", temp.InactiveValueHex)
	assert.Equal(t, "0xFF", temp.InvalidValueHex)
}

func TestParseEnumLookup(t *testing.T) {
	text := `BO_ 1 A: 8 ECU
 SG_ S : 0|8@1+ (1,0) [0|255] "" GW
BO_ 2 B: 8 ECU
BA_ "GenMsgSendType" BO_ 1 3;
BA_ "GenMsgSendType" BO_ 2 42;
BA_ "VFrameFormat" BO_ 2 Extended;
BA_ "GenSigSendType" SG_ 1 S 8;
`
	db, warnings := ParseString(text)
	require.Empty(t, warnings)

	// 未声明 BA_DEF_ 时使用内置枚举表
	assert.Equal(t, MessageSendTypes[3], db.Message(1).SendType)
	assert.Equal(t, "vector_leerstring", db.Message(1).Signals[0].SendType)
	// 越界或非数字原样保留
	assert.Equal(t, "42", db.Message(2).SendType)
	assert.Equal(t, "Extended", db.Message(2).FrameFormat)
	assert.Equal(t, "Extended", db.Message(2).MessageType)
}

func TestParseDuplicates(t *testing.T) {
	text := `BO_ 100 Engine: 8 ECU
 SG_ A : 0|8@1+ (1,0) [0|255] "" GW
 SG_ B : 8|8@1+ (1,0) [0|255] "" GW
 SG_ A : 16|4@1+ (2,0) [0|30] "" GW
BO_ 100 Engine2: 4 IC
 SG_ C : 24|8@1+ (1,0) [0|255] "" GW
`
	db, warnings := ParseString(text)
	require.Empty(t, warnings)
	require.Len(t, db.Messages, 1)

	msg := db.Message(100)
	assert.Equal(t, "Engine2", msg.Name)
	assert.Equal(t, 4, msg.Length)
	assert.Equal(t, "IC", msg.Transmitter)
	require.Len(t, msg.Signals, 3)
	assert.Equal(t, "A", msg.Signals[0].Name)
	assert.Equal(t, 16, msg.Signals[0].StartBit)
	assert.Equal(t, 2.0, msg.Signals[0].Factor)
	assert.Equal(t, "C", msg.Signals[2].Name)
}

func TestParseOrphans(t *testing.T) {
	text := ` SG_ Lost : 0|8@1+ (1,0) [0|255] "" GW
CM_ BO_ 7 "no such message";
BA_ "GenMsgCycleTime" BO_ 7 10;
VAL_ 7 Lost 0 "x";
BO_TX_BU_ 7 : GW;
`
	db, warnings := ParseString(text)
	assert.Empty(t, warnings)
	assert.Empty(t, db.Messages)
	assert.Empty(t, db.Nodes)
}

func TestParseWarnings(t *testing.T) {
	text := "BO_ 100 Engine: 8 ECU\r\n" +
		"  SG_ Broken : 0|x@1+ (1,0) [0|1] \"\" GW\r\n" +
		"// comment\r\n" +
		"\r\n" +
		"WHATEVER 1 2\r\n" +
		" SG_ Ok : 8|8@1+ (1,0) [0|255] \"\" GW"
	db, warnings := ParseString(text)
	assert.Equal(t, []string{
		"行号:2 :  SG_ Broken : 0|x@1+ (1,0) [0|1] \"\" GW",
		"行号:5 :WHATEVER 1 2",
	}, warnings)

	msg := db.Message(100)
	require.NotNil(t, msg)
	require.Len(t, msg.Signals, 1)
	assert.Equal(t, "Ok", msg.Signals[0].Name)
}

func TestParseEmpty(t *testing.T) {
	db, warnings := ParseString("")
	assert.Empty(t, warnings)
	require.NotNil(t, db)
	assert.Empty(t, db.Messages)
	assert.Equal(t, "CAN", db.BusType)
}

func TestParseFile(t *testing.T) {
	_, _, err := ParseFile(filepath.Join(t.TempDir(), "missing.dbc"))
	assert.Error(t, err)

	p := NewParser(iotest.ErrReader(errors.New("boom")))
	db, err := p.Parse()
	assert.Nil(t, db)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "boom"))
	assert.Equal(t, err, p.Err())
}

func TestSplitReceivers(t *testing.T) {
	assert.Nil(t, splitReceivers("  ; "))
	assert.Equal(t, []string{"A", "B", "C"}, splitReceivers("A, B C;"))
}

func TestUnescape(t *testing.T) {
	assert.Equal(t, `a "b" \c`, unescape(`a \"b\" \\c`))
	assert.Equal(t, `x\n`, unescape(`x\n`))
	assert.Equal(t, "plain", unquote(` "plain" `))
	assert.Equal(t, "12", unquote("12"))
}

func TestParseCommentSpaceBeforeSemicolon(t *testing.T) {
	text := `BO_ 100 Engine: 8 ECU
 SG_ RPM : 0|16@1+ (0.25,0) [0|16383.75] "rpm" GW
CM_ BO_ 100 "engine" ;
BA_ "GenMsgCycleTime" BO_ 100 10;
BA_ "GenSigStartValue" SG_ 100 RPM 5;
VAL_ 100 RPM 0 "off" 1 "on";
CM_ SG_ 100 RPM "desc";
`
	db, warnings := ParseString(text)
	assert.Empty(t, warnings)

	msg := db.Message(100)
	require.NotNil(t, msg)
	assert.Equal(t, "engine", msg.Comment)
	assert.Equal(t, 10, msg.CycleTime)
	rpm := msg.Signal("RPM")
	require.NotNil(t, rpm)
	assert.Equal(t, 5.0, rpm.InitialValue)
	assert.Equal(t, map[int64]string{0: "off", 1: "on"}, rpm.ValueTable)
	assert.Equal(t, "desc", rpm.Description)
}

func TestParseCommentUnclosedQuote(t *testing.T) {
	text := `BO_ 100 Engine: 8 ECU
 SG_ RPM : 0|16@1+ (0.25,0) [0|16383.75] "rpm" GW
CM_ BO_ 100 "engine ;
BA_ "GenMsgCycleTime" BO_ 100 10;
VAL_ 100 RPM 0 "off" 1 "on";
CM_ SG_ 100 RPM "first
second";
BA_ "GenSigStartValue" SG_ 100 RPM 5;
`
	db, warnings := ParseString(text)
	assert.Equal(t, []string{`行号:3 :CM_ BO_ 100 "engine ;`}, warnings)

	msg := db.Message(100)
	require.NotNil(t, msg)
	assert.Empty(t, msg.Comment)
	assert.Equal(t, 10, msg.CycleTime)
	rpm := msg.Signal("RPM")
	require.NotNil(t, rpm)
	assert.Equal(t, map[int64]string{0: "off", 1: "on"}, rpm.ValueTable)
	assert.Equal(t, "first\nsecond", rpm.Description)
	assert.Equal(t, 5.0, rpm.InitialValue)
}

func TestParseCommentUnclosedAtEOF(t *testing.T) {
	db, warnings := ParseString("BO_ 100 Engine: 8 ECU\nCM_ BO_ 100 \"never closed\n still open")
	require.Len(t, warnings, 2)
	assert.Equal(t, "行号:2 :CM_ BO_ 100 \"never closed", warnings[0])
	assert.Equal(t, "行号:3 : still open", warnings[1])
	assert.NotNil(t, db.Message(100))
}

func TestQuoteOpen(t *testing.T) {
	assert.False(t, quoteOpen(`CM_ BO_ 1 "a \"b\" c";`, false))
	assert.True(t, quoteOpen(`CM_ BO_ 1 "a \\`, false))
	assert.True(t, quoteOpen(`CM_ BO_ 1 "a \";`, false))
	assert.False(t, quoteOpen(`tail";`, true))
	assert.True(t, isDirective("BO_TX_BU_ 1 : A;"))
	assert.True(t, isDirective("BU_: A B"))
	assert.False(t, isDirective("BO_x"))
	assert.False(t, isDirective("text"))
}
