package dbc

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

func NewSignal(name string) *Signal {
	return &Signal{
		Name:      name,
		Length:    1,
		ByteOrder: Motorola,
		Factor:    1.0,
	}
}

// MaskForLength returns the all-ones pattern of a n-bit field.
func MaskForLength(n int) uint64 {
	if n <= 0 {
		return 0
	}
	if n >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << uint(n)) - 1
}

// roundToInt64 rounds half away from zero and saturates at the int64 limits.
func roundToInt64(v float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	r := math.Round(v)
	if r >= math.MaxInt64 {
		return math.MaxInt64
	}
	if r <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(r)
}

func (s *Signal) RawToPhysical(raw int64) float64 {
	return float64(raw)*s.Factor + s.Offset
}

// PhysicalToRaw returns 0 for a zero factor; callers are expected to check Factor first.
func (s *Signal) PhysicalToRaw(phys float64) int64 {
	if s.Factor == 0 {
		return 0
	}
	return roundToInt64((phys - s.Offset) / s.Factor)
}

// PhysicalToRawMasked is the raw value truncated to the signal width, as rendered in hex.
func (s *Signal) PhysicalToRawMasked(phys float64) uint64 {
	return uint64(s.PhysicalToRaw(phys)) & MaskForLength(s.Length)
}

// InitialRawMasked interprets InitialValue as a raw pattern.
func (s *Signal) InitialRawMasked() uint64 {
	return uint64(roundToInt64(s.InitialValue)) & MaskForLength(s.Length)
}

func (s *Signal) ValueDescription(raw int64) string {
	if desc, ok := s.ValueTable[raw]; ok {
		return desc
	}
	return strconv.FormatInt(raw, 10)
}

func (s *Signal) SetValueDescription(raw int64, desc string) {
	if s.ValueTable == nil {
		s.ValueTable = make(map[int64]string)
	}
	s.ValueTable[raw] = desc
}

// SortedValueKeys returns the value table keys in ascending order.
func (s *Signal) SortedValueKeys() []int64 {
	return sortedKeys(s.ValueTable)
}

func (s *Signal) ReceiversString() string {
	return strings.Join(s.Receivers, ", ")
}

func (s *Signal) Clone() *Signal {
	c := *s
	if s.Receivers != nil {
		c.Receivers = append([]string(nil), s.Receivers...)
	}
	if s.ValueTable != nil {
		c.ValueTable = make(map[int64]string, len(s.ValueTable))
		for k, v := range s.ValueTable {
			c.ValueTable[k] = v
		}
	}
	return &c
}

func sortedKeys(m map[int64]string) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
