package dbc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

func (r *ValidationResult) addError(msgName, sigName, text string) {
	if sigName == "" {
		r.Errors = append(r.Errors, fmt.Sprintf("[%s] %s", msgName, text))
	} else {
		r.Errors = append(r.Errors, fmt.Sprintf("[%s / %s] %s", msgName, sigName, text))
	}
	r.OK = false
}

func rawMinSigned(length int) int64 {
	if length <= 0 || length > 64 {
		return 0
	}
	if length == 64 {
		return math.MinInt64
	}
	return -(int64(1) << uint(length-1))
}

func rawMaxSigned(length int) int64 {
	if length <= 0 || length > 64 {
		return 0
	}
	if length == 64 {
		return math.MaxInt64
	}
	return (int64(1) << uint(length-1)) - 1
}

func rawInSignedRange(raw int64, length int) bool {
	return length > 0 && length <= 64 && raw >= rawMinSigned(length) && raw <= rawMaxSigned(length)
}

func rawInUnsignedRange(raw int64, length int) bool {
	return length > 0 && length <= 64 && raw >= 0 && uint64(raw) <= MaskForLength(length)
}

// parseHexValue 解析 "0x.." 十六进制或十进制文本
func parseHexValue(text string) (int64, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, false
	}
	var (
		v   int64
		err error
	)
	if len(trimmed) > 2 && strings.EqualFold(trimmed[:2], "0x") {
		v, err = strconv.ParseInt(trimmed[2:], 16, 64)
	} else {
		v, err = strconv.ParseInt(trimmed, 10, 64)
	}
	return v, err == nil
}

// ValidateMessages checks value ranges and bit layout of every message.
// It never fails; each problem becomes one entry of Errors.
func ValidateMessages(messages []*Message) ValidationResult {
	result := ValidationResult{OK: true}
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		for _, sig := range msg.Signals {
			if sig != nil {
				validateSignalValues(msg, sig, &result)
			}
		}
		validateMessageLayout(msg, &result)
	}
	return result
}

func Validate(db *Database) ValidationResult {
	if db == nil {
		return ValidationResult{OK: true}
	}
	return ValidateMessages(db.Messages)
}

func validateSignalValues(msg *Message, sig *Signal, result *ValidationResult) {
	msgName, sigName := msg.Name, sig.Name
	length := sig.Length

	if sig.Factor == 0 {
		result.addError(msgName, sigName, "Resolution（精度）不能为0")
		return
	}
	if sig.Min > sig.Max {
		result.addError(msgName, sigName, "物理最小值不能大于物理最大值")
	}

	minSigned, maxSigned := rawMinSigned(length), rawMaxSigned(length)
	maxUnsigned := MaskForLength(length)
	signedRange := func(label string, v int64) {
		result.addError(msgName, sigName, fmt.Sprintf("%s %d 超出有符号 %d 位范围 [%d, %d]", label, v, length, minSigned, maxSigned))
	}
	unsignedRange := func(label string, v int64) {
		result.addError(msgName, sigName, fmt.Sprintf("%s %d 超出无符号 %d 位范围 [0, %d]", label, v, length, maxUnsigned))
	}

	rawMin := sig.PhysicalToRaw(sig.Min)
	rawMax := sig.PhysicalToRaw(sig.Max)
	initRaw := roundToInt64(sig.InitialValue)
	if sig.Signed {
		if rawMin < minSigned || rawMin > maxSigned {
			signedRange("由物理最小值换算的总线值", rawMin)
		}
		if rawMax < minSigned || rawMax > maxSigned {
			signedRange("由物理最大值换算的总线值", rawMax)
		}
		if rawMin <= rawMax {
			if initRaw < minSigned || initRaw > maxSigned {
				signedRange("初始值(Hex)", initRaw)
			} else if initRaw < rawMin || initRaw > rawMax {
				result.addError(msgName, sigName, fmt.Sprintf("初始值(Hex) %d 不在物理范围换算的总线范围 [%d, %d] 内", initRaw, rawMin, rawMax))
			}
		}
	} else {
		if !rawInUnsignedRange(rawMin, length) {
			unsignedRange("由物理最小值换算的总线值", rawMin)
		}
		if !rawInUnsignedRange(rawMax, length) {
			unsignedRange("由物理最大值换算的总线值", rawMax)
		}
		if !rawInUnsignedRange(initRaw, length) {
			unsignedRange("初始值(Hex)", initRaw)
		} else if rawMin <= rawMax && (initRaw < rawMin || initRaw > rawMax) {
			result.addError(msgName, sigName, fmt.Sprintf("初始值(Hex) %d 不在物理范围换算的总线范围 [%d, %d] 内", initRaw, rawMin, rawMax))
		}
	}

	// Excel 导入的总线最小/最大值(Hex)
	if sig.HasRawRange {
		rawMinHex := roundToInt64(sig.RawMin)
		rawMaxHex := roundToInt64(sig.RawMax)
		if rawMinHex > rawMaxHex {
			result.addError(msgName, sigName, "总线最小值(Hex)不能大于总线最大值(Hex)")
		}
		checkRaw(sig, "总线最小值(Hex)", rawMinHex, signedRange, unsignedRange)
		checkRaw(sig, "总线最大值(Hex)", rawMaxHex, signedRange, unsignedRange)
	}

	// 无效值/非使能值, 无法解析时视为自由文本
	if v, ok := parseHexValue(sig.InvalidValueHex); ok {
		checkRaw(sig, "无效值(Hex)", v, signedRange, unsignedRange)
	}
	if v, ok := parseHexValue(sig.InactiveValueHex); ok {
		checkRaw(sig, "非使能值(Hex)", v, signedRange, unsignedRange)
	}
}

func checkRaw(sig *Signal, label string, v int64, signedRange, unsignedRange func(string, int64)) {
	if sig.Signed {
		if !rawInSignedRange(v, sig.Length) {
			signedRange(label, v)
		}
		return
	}
	if !rawInUnsignedRange(v, sig.Length) {
		unsignedRange(label, v)
	}
}

func validateMessageLayout(msg *Message, result *ValidationResult) {
	msgName := msg.Name
	msgLen := msg.Length
	sigs := make([]*Signal, 0, len(msg.Signals))
	for _, sig := range msg.Signals {
		if sig != nil {
			sigs = append(sigs, sig)
		}
	}

	for _, sig := range sigs {
		if sig.Length <= 0 {
			result.addError(msgName, sig.Name, "信号长度必须大于0")
			continue
		}
		if sig.StartBit < 0 {
			result.addError(msgName, sig.Name, "起始位不能为负")
			continue
		}
		if sig.ByteOrder == Intel {
			maxBit := msgLen*8 - 1
			if sig.StartBit+sig.Length-1 > maxBit {
				result.addError(msgName, sig.Name, fmt.Sprintf("信号位范围 [%d, %d] 超出报文长度（报文 %d 字节，有效位 0..%d）",
					sig.StartBit, sig.StartBit+sig.Length-1, msgLen, maxBit))
			}
		}
	}

	type layout struct {
		cells       map[Cell]struct{}
		outOfRange  bool
		selfOverlap bool
	}
	layouts := make([]layout, len(sigs))
	for i, sig := range sigs {
		cells := SignalCells(sig, msgLen)
		set := make(map[Cell]struct{}, len(cells))
		for _, c := range cells {
			set[c] = struct{}{}
		}
		layouts[i] = layout{
			cells:       set,
			outOfRange:  len(cells) < sig.Length,
			selfOverlap: len(set) != len(cells),
		}
	}

	// 按信号依次输出: 自身越界, 自身重叠, 与其后各信号的重叠
	for i, sig := range sigs {
		if layouts[i].outOfRange {
			result.addError(msgName, sig.Name, fmt.Sprintf("信号位范围超出报文长度（报文 %d 字节）", msgLen))
		}
		if layouts[i].selfOverlap {
			result.addError(msgName, sig.Name, "信号内部位重叠（起始位/长度与字节序不一致）")
		}
		for j := i + 1; j < len(sigs); j++ {
			for c := range layouts[j].cells {
				if _, ok := layouts[i].cells[c]; ok {
					result.addError(msgName, "", fmt.Sprintf("信号 \"%s\" 与 \"%s\" 位重叠", sig.Name, sigs[j].Name))
					break
				}
			}
		}
	}
}
