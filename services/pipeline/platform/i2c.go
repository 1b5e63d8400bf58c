package platform

import (
	"encoding/binary"
	"errors"
	"sync"
)

var ErrMalformedTx = errors.New("i2c: malformed register transaction")

// Tx is one recorded I²C transaction.
type Tx struct {
	Addr uint16
	W    []byte
	Rn   int
}

// RecordingI2C implements tinygo drivers.I2C as a 32-bit register file
// (8-bit sub-address, little-endian values). Every transaction is recorded.
type RecordingI2C struct {
	mu      sync.Mutex
	regs    map[byte]uint32
	log     []Tx
	fail    error
	onWrite func(reg byte, val uint32)
}

func NewRecordingI2C() *RecordingI2C {
	return &RecordingI2C{regs: map[byte]uint32{}}
}

// OnWrite installs a hook run after each register write, outside the lock.
func (b *RecordingI2C) OnWrite(fn func(reg byte, val uint32)) {
	b.mu.Lock()
	b.onWrite = fn
	b.mu.Unlock()
}

// FailWith makes every following transaction return err (nil clears it).
func (b *RecordingI2C) FailWith(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

func (b *RecordingI2C) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	b.log = append(b.log, Tx{Addr: addr, W: append([]byte(nil), w...), Rn: len(r)})
	if b.fail != nil {
		err := b.fail
		b.mu.Unlock()
		return err
	}
	switch {
	case len(w) == 5 && len(r) == 0:
		reg, val := w[0], binary.LittleEndian.Uint32(w[1:])
		b.regs[reg] = val
		hook := b.onWrite
		b.mu.Unlock()
		if hook != nil {
			hook(reg, val)
		}
		return nil
	case len(w) == 1 && len(r) == 4:
		binary.LittleEndian.PutUint32(r, b.regs[w[0]])
		b.mu.Unlock()
		return nil
	default:
		b.mu.Unlock()
		return ErrMalformedTx
	}
}

// Reg reads back a register without recording a transaction.
func (b *RecordingI2C) Reg(reg byte) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[reg]
}

// SetReg presets a register, as the device itself would.
func (b *RecordingI2C) SetReg(reg byte, val uint32) {
	b.mu.Lock()
	b.regs[reg] = val
	b.mu.Unlock()
}

// Log copies the recorded transactions.
func (b *RecordingI2C) Log() []Tx {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Tx(nil), b.log...)
}
