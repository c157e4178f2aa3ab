package dbc

import "strings"

// Enumeration tables shared by the parser and the writer. The ordinal
// position is the value written in BA_ lines.
var (
	MessageSendTypes = []string{
		"Cycle",
		"OnChange",
		"OnWrite",
		"OnWriteWithRepetition",
		"OnChangeWithRepetition",
		"IfActive",
		"IfActiveWithRepetition",
		"NoMsgSendType",
	}

	SignalSendTypes = []string{
		"Cycle",
		"OnWrite",
		"OnWriteWithRepetition",
		"OnChange",
		"OnChangeWithRepetition",
		"IfActive",
		"IfActiveWithRepetition",
		"NoSigSendType",
		"vector_leerstring",
	}

	FrameFormats = []string{
		"StandardCAN",
		"ExtendedCAN",
		"reserved",
		"reserved",
		"reserved",
		"reserved",
		"reserved",
		"reserved",
		"reserved",
		"reserved",
		"reserved",
		"reserved",
		"reserved",
		"reserved",
		"StandardCAN_FD",
		"ExtendedCAN_FD",
	}
)

const (
	FrameStandardCAN   = "StandardCAN"
	FrameExtendedCAN   = "ExtendedCAN"
	FrameStandardCANFD = "StandardCAN_FD"
	FrameExtendedCANFD = "ExtendedCAN_FD"

	TypeCANStandard   = "CAN Standard"
	TypeCANExtended   = "CAN Extended"
	TypeCANFDStandard = "CANFD Standard"
	TypeCANFDExtended = "CANFD Extended"
)

func indexOfFold(list []string, value string) int {
	for i, v := range list {
		if strings.EqualFold(v, value) {
			return i
		}
	}
	return -1
}

// MessageSendTypeIndex returns -1 for an unknown send type.
func MessageSendTypeIndex(sendType string) int {
	return indexOfFold(MessageSendTypes, sendType)
}

// SignalSendTypeIndex accepts "Cyclic" as an alias of "Cycle"; -1 for unknown.
func SignalSendTypeIndex(sendType string) int {
	if strings.EqualFold(sendType, "Cyclic") {
		return 0
	}
	return indexOfFold(SignalSendTypes, sendType)
}

func FrameFormatIndex(frameFormat string) int {
	if idx := indexOfFold(FrameFormats, frameFormat); idx >= 0 && !strings.EqualFold(frameFormat, "reserved") {
		return idx
	}
	upper := strings.ToUpper(frameFormat)
	switch {
	case strings.Contains(upper, "STANDARDCAN_FD"):
		return indexOfFold(FrameFormats, FrameStandardCANFD)
	case strings.Contains(upper, "EXTENDEDCAN_FD"):
		return indexOfFold(FrameFormats, FrameExtendedCANFD)
	case strings.Contains(upper, "EXTENDEDCAN"):
		return indexOfFold(FrameFormats, FrameExtendedCAN)
	}
	return indexOfFold(FrameFormats, FrameStandardCAN)
}

// MessageTypeForFrameFormat maps a VFrameFormat value to the human readable
// message type; unknown values are returned as is.
func MessageTypeForFrameFormat(format string) string {
	switch {
	case strings.EqualFold(format, FrameStandardCANFD):
		return TypeCANFDStandard
	case strings.EqualFold(format, FrameExtendedCANFD):
		return TypeCANFDExtended
	case strings.EqualFold(format, FrameStandardCAN):
		return TypeCANStandard
	case strings.EqualFold(format, FrameExtendedCAN):
		return TypeCANExtended
	}
	return format
}

// NormalizeMessageType canonicalizes a spreadsheet message type ("CAN FD Standard",
// "CANFD Extended", ...) and returns it together with the matching frame format.
func NormalizeMessageType(messageType string) (string, string) {
	t := strings.ToUpper(strings.TrimSpace(messageType))
	fd := strings.Contains(t, "CAN FD") || strings.Contains(t, "CANFD")
	extended := strings.Contains(t, "EXTENDED")
	switch {
	case fd && extended:
		return TypeCANFDExtended, FrameExtendedCANFD
	case fd:
		return TypeCANFDStandard, FrameStandardCANFD
	case extended:
		return TypeCANExtended, FrameExtendedCAN
	}
	return TypeCANStandard, FrameStandardCAN
}

// canonicalFrameFormat prefers the explicit frame format and falls back to the message type.
func canonicalFrameFormat(msg *Message) string {
	if msg.FrameFormat != "" {
		return msg.FrameFormat
	}
	_, ff := NormalizeMessageType(msg.MessageType)
	return ff
}

// attrKind is the closed set of BA_ attributes this package understands.
type attrKind int

const (
	attrUnknown attrKind = iota
	attrDocumentTitle
	attrBusType
	attrMsgCycleTime
	attrMsgCycleTimeFast
	attrMsgSendType
	attrMsgFrameFormat
	attrMsgNrOfRepetitions
	attrMsgDelayTime
	attrSigSendType
	attrSigStartValue
	attrSigSNA
	attrSigInvalidValue
)

var attrNames = map[string]attrKind{
	"DocumentTitle":         attrDocumentTitle,
	"BusType":               attrBusType,
	"GenMsgCycleTime":       attrMsgCycleTime,
	"GenMsgCycleTimeFast":   attrMsgCycleTimeFast,
	"GenMsgSendType":        attrMsgSendType,
	"VFrameFormat":          attrMsgFrameFormat,
	"GenMsgNrOfRepetition":  attrMsgNrOfRepetitions,
	"GenMsgNrOfRepetitions": attrMsgNrOfRepetitions,
	"GenMsgDelayTime":       attrMsgDelayTime,
	"GenSigSendType":        attrSigSendType,
	"GenSigStartValue":      attrSigStartValue,
	"GenSigSNA":             attrSigSNA,
	"GenSigInvalidValue":    attrSigInvalidValue,
}

func attrKindOf(name string) attrKind {
	return attrNames[name]
}
