package dbc

import (
	"fmt"
	"strings"
)

func NewMessage(id uint32, name string, length int, transmitter string) *Message {
	return &Message{
		ID:          id,
		Name:        name,
		Length:      length,
		Transmitter: transmitter,
	}
}

// Signal returns the signal with the given name or nil.
func (m *Message) Signal(name string) *Signal {
	for _, sig := range m.Signals {
		if sig.Name == name {
			return sig
		}
	}
	return nil
}

func (m *Message) signalIndex(name string) int {
	for i, sig := range m.Signals {
		if sig.Name == name {
			return i
		}
	}
	return -1
}

func (m *Message) AddSignal(sig *Signal) {
	if sig == nil {
		return
	}
	m.Signals = append(m.Signals, sig)
}

// InsertSignal inserts at index; an index out of range appends.
func (m *Message) InsertSignal(index int, sig *Signal) {
	if sig == nil {
		return
	}
	if index < 0 || index > len(m.Signals) {
		m.Signals = append(m.Signals, sig)
		return
	}
	m.Signals = append(m.Signals, nil)
	copy(m.Signals[index+1:], m.Signals[index:])
	m.Signals[index] = sig
}

// RemoveSignal removes the named signal and returns it, or nil when absent.
func (m *Message) RemoveSignal(name string) *Signal {
	idx := m.signalIndex(name)
	if idx < 0 {
		return nil
	}
	sig := m.Signals[idx]
	m.Signals = append(m.Signals[:idx], m.Signals[idx+1:]...)
	return sig
}

// MoveSignal reorders a signal; returns false for indices out of range.
func (m *Message) MoveSignal(from, to int) bool {
	if from < 0 || from >= len(m.Signals) || to < 0 || to >= len(m.Signals) {
		return false
	}
	sig := m.Signals[from]
	m.Signals = append(m.Signals[:from], m.Signals[from+1:]...)
	m.InsertSignal(to, sig)
	return true
}

func (m *Message) FormattedID() string {
	return "0x" + strings.ToUpper(fmt.Sprintf("%x", m.ID))
}

func (m *Message) FormattedLength() string {
	return fmt.Sprintf("%d bytes", m.Length)
}

// IsFD reports whether the frame format or message type names CAN FD.
func (m *Message) IsFD() bool {
	ff := strings.ToUpper(m.FrameFormat)
	mt := strings.ToUpper(m.MessageType)
	return strings.HasSuffix(ff, "_FD") || strings.Contains(mt, "CANFD") || strings.Contains(mt, "CAN FD")
}

func (m *Message) Clone() *Message {
	c := *m
	if m.Receivers != nil {
		c.Receivers = append([]string(nil), m.Receivers...)
	}
	if m.Signals != nil {
		c.Signals = make([]*Signal, 0, len(m.Signals))
		for _, sig := range m.Signals {
			c.Signals = append(c.Signals, sig.Clone())
		}
	}
	return &c
}
