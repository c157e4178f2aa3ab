package dbc

// Bit positions address the payload linearly: bit 0 is the LSB of byte 0,
// bit 8*len-1 the MSB of the last byte.

// Cell is one physical bit of the payload.
type Cell struct {
	Byte int
	Bit  int // 0=LSB .. 7=MSB
}

// MaxWalkBits bounds a walk to the largest payload (64 bytes).
const MaxWalkBits = 64 * 8

// BitWalk returns the bit indices a signal occupies, in walk order: LSB first
// for Intel, MSB first for Motorola. Indices are not range checked; a walk
// longer than MaxWalkBits is cut at MaxWalkBits.
func BitWalk(startBit, length int, order ByteOrder) []int {
	if length <= 0 {
		return nil
	}
	if length > MaxWalkBits {
		length = MaxWalkBits
	}
	bits := make([]int, 0, length)
	bitIndex := startBit
	for k := 0; k < length; k++ {
		if order == Intel {
			bits = append(bits, startBit+k)
			continue
		}
		bits = append(bits, bitIndex)
		// Motorola: 7,6,...,0 then jump to 15,14,...,8
		if bitIndex%8 == 0 {
			bitIndex += 15
		} else {
			bitIndex--
		}
	}
	return bits
}

// SignalCells maps the walk of sig onto a payload of msgLen bytes; bits outside
// the payload are dropped.
func SignalCells(sig *Signal, msgLen int) []Cell {
	walk := BitWalk(sig.StartBit, sig.Length, sig.ByteOrder)
	cells := make([]Cell, 0, len(walk))
	for _, bitIndex := range walk {
		byteIdx := bitIndex / 8
		bitInByte := bitIndex % 8
		if byteIdx >= 0 && byteIdx < msgLen && bitInByte >= 0 && bitInByte < 8 {
			cells = append(cells, Cell{Byte: byteIdx, Bit: bitInByte})
		}
	}
	return cells
}
