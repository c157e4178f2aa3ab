package can

import (
	"github.com/cockroachdb/errors"

	"github.com/yannick-cn/dbc-view/base"
	"github.com/yannick-cn/dbc-view/dbc"
)

var log = base.Logger

var (
	ErrUnknownMessage  = errors.New("unknown message id")
	ErrUnknownSignal   = errors.New("unknown signal")
	ErrPayloadTooShort = errors.New("payload shorter than message length")
)

// Filter 选择需要解码的报文/信号, nil 表示全部解码
type Filter interface {
	IsEnable() bool
	HasMessage(id uint32) bool
	Contains(id uint32, signal string) bool
}

type Decoder struct {
	db     *dbc.Database
	filter Filter
}

func NewDecoder(db *dbc.Database, filter Filter) *Decoder {
	return &Decoder{db: db, filter: filter}
}

// Decode decodes payload against the message with the given id using every signal.
func Decode(db *dbc.Database, id uint32, payload []byte) (*Frame, error) {
	return NewDecoder(db, nil).Decode(id, payload)
}

func (d *Decoder) filtering() bool {
	return d.filter != nil && d.filter.IsEnable()
}

// Decode extracts the signals of message id from payload. With an enabled
// filter only selected signals are returned.
func (d *Decoder) Decode(id uint32, payload []byte) (*Frame, error) {
	msg := d.db.Message(id)
	if msg == nil {
		log.Debugf("No dbc data !!! canId(%d)", id)
		return nil, errors.Wrapf(ErrUnknownMessage, "id 0x%X", id)
	}
	if len(payload) < msg.Length {
		return nil, errors.Wrapf(ErrPayloadTooShort, "%s: want %d bytes, got %d", msg.Name, msg.Length, len(payload))
	}

	frame := &Frame{
		ID:      id,
		Name:    msg.Name,
		Payload: payload,
	}
	// 按DBC内信号顺序遍历
	for _, sig := range msg.Signals {
		if d.filtering() && !d.filter.Contains(id, sig.Name) {
			continue
		}
		frame.Signals = append(frame.Signals, decodeSignal(sig, payload))
	}
	return frame, nil
}

// DecodeAll decodes every pdu. Frames of messages outside an enabled filter
// are returned undecoded in other; unknown or short pdus are logged and dropped.
func (d *Decoder) DecodeAll(pdus []PDU) (decoded []*Frame, other []*Frame) {
	for _, pdu := range pdus {
		if d.filtering() && !d.filter.HasMessage(pdu.CanId) {
			other = append(other, pdu.frame())
			continue
		}
		frame, err := d.Decode(pdu.CanId, pdu.Payload)
		if err != nil {
			log.Warnln(err)
			continue
		}
		frame.TimeStamp = pdu.Timestamp
		frame.BusId = pdu.BusId
		frame.Direction = pdu.Direction
		decoded = append(decoded, frame)
	}
	return decoded, other
}

// ExtractRaw returns the raw value of sig in payload, sign extended when the
// signal is signed. Bits outside payload read as 0.
func ExtractRaw(sig *dbc.Signal, payload []byte) int64 {
	var retVal uint64
	walk := dbc.BitWalk(sig.StartBit, sig.Length, sig.ByteOrder)
	for i, bitIndex := range walk {
		startByte, startBit := bitIndex/8, bitIndex%8
		if bitIndex < 0 || startByte >= len(payload) {
			continue
		}
		bit := uint64((payload[startByte] >> uint(startBit)) & 0x01)
		if sig.ByteOrder == dbc.Intel {
			retVal |= bit << uint(i)
		} else {
			// Motorola 从最高位开始
			retVal |= bit << uint(sig.Length-i-1)
		}
	}

	if sig.Signed && sig.Length > 0 && sig.Length < 64 && retVal&(uint64(1)<<uint(sig.Length-1)) != 0 {
		retVal |= ^dbc.MaskForLength(sig.Length)
	}
	return int64(retVal)
}

// PutRaw writes the low sig.Length bits of raw into payload.
func PutRaw(sig *dbc.Signal, payload []byte, raw uint64) {
	raw &= dbc.MaskForLength(sig.Length)
	walk := dbc.BitWalk(sig.StartBit, sig.Length, sig.ByteOrder)
	for i, bitIndex := range walk {
		startByte, startBit := bitIndex/8, bitIndex%8
		if bitIndex < 0 || startByte >= len(payload) {
			continue
		}
		shift := uint(i)
		if sig.ByteOrder == dbc.Motorola {
			shift = uint(sig.Length - i - 1)
		}
		if raw>>shift&0x01 != 0 {
			payload[startByte] |= 1 << uint(startBit)
		} else {
			payload[startByte] &^= 1 << uint(startBit)
		}
	}
}

func decodeSignal(sig *dbc.Signal, payload []byte) SignalValue {
	raw := ExtractRaw(sig, payload)
	v := SignalValue{
		Name:     sig.Name,
		Raw:      raw,
		Physical: sig.RawToPhysical(raw),
		Unit:     sig.Unit,
	}
	if desc, ok := sig.ValueTable[raw]; ok {
		v.Description = desc
	}
	return v
}

// Encode builds the payload of msg from physical signal values. Signals not
// present in values keep their initial value.
func Encode(msg *dbc.Message, values map[string]float64) ([]byte, error) {
	for name := range values {
		if msg.Signal(name) == nil {
			return nil, errors.Wrapf(ErrUnknownSignal, "%s in %s", name, msg.Name)
		}
	}

	payload := make([]byte, msg.Length)
	for _, sig := range msg.Signals {
		raw := sig.InitialRawMasked()
		if phys, ok := values[sig.Name]; ok {
			raw = sig.PhysicalToRawMasked(phys)
		}
		PutRaw(sig, payload, raw)
	}
	return payload, nil
}
