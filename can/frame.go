package can

import (
	"bytes"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Direction
const (
	SDPERecv = iota
	SDPESend
)

// PDU 一帧原始报文
type PDU struct {
	Timestamp int64 // ms
	CanId     uint32
	BusId     uint8
	Direction uint8
	Payload   []byte
}

func (pdu PDU) frame() *Frame {
	return &Frame{
		ID:        pdu.CanId,
		BusId:     pdu.BusId,
		Direction: pdu.Direction,
		TimeStamp: pdu.Timestamp,
		Payload:   pdu.Payload,
	}
}

type SignalValue struct {
	Name        string  `json:"name"`
	Raw         int64   `json:"raw"`
	Physical    float64 `json:"phys"`
	Unit        string  `json:"unit,omitempty"`
	Description string  `json:"desc,omitempty"`
}

type Frame struct {
	ID        uint32        `json:"id"`
	Name      string        `json:"name,omitempty"`
	BusId     uint8         `json:"bus"`
	Direction uint8         `json:"d"`
	TimeStamp int64         `json:"t"`
	Payload   []byte        `json:"-"`
	Signals   []SignalValue `json:"signals"`
}

// Signal returns the decoded value with the given name.
func (f *Frame) Signal(name string) (SignalValue, bool) {
	for _, s := range f.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return SignalValue{}, false
}

// Raw renders the frame as one trace line, e.g.
// "1690681909000 372 8 Rx d 8 00 00 00 AA 0D 00 00 00".
func (f *Frame) Raw() string {
	var strDirection string
	switch f.Direction {
	case SDPERecv:
		strDirection = "Rx d"
	case SDPESend:
		strDirection = "Tx d"
	default:
	}

	rawData := bytes.NewBuffer(make([]byte, 0, 32+3*len(f.Payload)))
	rawData.WriteString(strconv.FormatInt(f.TimeStamp, 10))
	rawData.WriteString(" ")
	rawData.WriteString(strconv.FormatUint(uint64(f.ID), 10))
	rawData.WriteString(" ")
	rawData.WriteString(strconv.FormatUint(uint64(f.BusId), 10))
	rawData.WriteString(" ")
	rawData.WriteString(strDirection)
	rawData.WriteString(" ")
	rawData.WriteString(strconv.Itoa(len(f.Payload)))
	rawData.WriteString(" ")
	for _, oneByte := range f.Payload {
		rawData.Write(byteToHexChar(oneByte))
		rawData.WriteString(" ")
	}
	// pop the last space
	return string(bytes.TrimSpace(rawData.Bytes()))
}

/*
{
	"ts": 1692179443894,
	"raw": {
		"APA_VDC_SYSMTE": "1692179443894 1343 12 Rx d 8 00 00 00 AA 0D 00 00 00"
	},
	"APA_VDC_SYSMTE": {
		"id": 1343,
		"bus": 12,
		"d": 0,
		"t": 1692179443894,
		"DistToDsttnNav": 0,
		"DsttnTypOfNav": 0
	}
}
*/

// MarshalFrames encodes decoded frames keyed by message name; ts is the
// timestamp of the first frame.
func MarshalFrames(frames []*Frame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	datas := make(map[string]any, len(frames)+2)
	datas["ts"] = frames[0].TimeStamp
	raw := make(map[string]string, len(frames))
	for _, frame := range frames {
		raw[frame.Name] = frame.Raw()

		cans := make(map[string]any, len(frame.Signals)+4)
		cans["id"] = frame.ID
		cans["bus"] = frame.BusId
		cans["d"] = frame.Direction
		cans["t"] = frame.TimeStamp
		for _, s := range frame.Signals {
			cans[s.Name] = s.Physical
		}
		datas[frame.Name] = cans
	}
	datas["raw"] = raw

	retJson, err := jsoniter.Marshal(datas)
	if err != nil {
		log.Errorln(err)
		return nil, err
	}
	return retJson, nil
}

// MarshalRaw renders frames as trace lines, one per frame.
func MarshalRaw(frames []*Frame) []byte {
	var raw []byte
	for _, frame := range frames {
		raw = append(raw, frame.Raw()...)
		// append LF
		raw = append(raw, '\n')
	}
	return raw
}

func byteToHexChar(oneByte byte) []byte {
	high := strings.ToUpper(strconv.FormatUint(uint64(oneByte>>4), 16))
	low := strings.ToUpper(strconv.FormatUint(uint64(oneByte&0x0F), 16))
	return []byte(high + low)
}
