package einkctl

import (
	"errors"
	"fmt"
	"sync"

	"tinygo.org/x/drivers"

	"einkpipe-go/types"
)

var (
	ErrPipeRange = errors.New("einkctl: pipe index out of range")
	ErrNoAddress = errors.New("einkctl: address must be non-zero")
)

// Config is the driver configuration.
type Config struct {
	Address uint16
}

func DefaultConfig() Config { return Config{Address: AddressDefault} }

func (c Config) Validate() error {
	if c.Address == 0 {
		return ErrNoAddress
	}
	return nil
}

// Device is one controller on an I²C bus. Methods are safe for concurrent
// use; each call holds the bus for its whole register sequence.
type Device struct {
	mu   sync.Mutex
	i2c  drivers.I2C
	addr uint16

	// Shadows of write-mostly registers.
	ctrl    uint32
	enabled uint64

	// Fixed buffers to avoid per-call heap allocations.
	w [5]byte
	r [4]byte
}

func New(i2c drivers.I2C, cfg Config) *Device {
	if cfg.Address == 0 {
		cfg.Address = AddressDefault
	}
	return &Device{i2c: i2c, addr: cfg.Address}
}

// Reset clears control and pipe enables.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctrl, d.enabled = 0, 0
	if err := d.write(RegCtrl, 0); err != nil {
		return err
	}
	if err := d.write(RegPipeEnableLo, 0); err != nil {
		return err
	}
	return d.write(RegPipeEnableHi, 0)
}

// ---- Pipes ----

func (d *Device) EnablePipe(id int) error  { return d.setPipe(id, true) }
func (d *Device) DisablePipe(id int) error { return d.setPipe(id, false) }

func (d *Device) setPipe(id int, on bool) error {
	if id < 0 || id >= MaxPipes {
		return ErrPipeRange
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	mask := d.enabled
	if on {
		mask |= 1 << uint(id)
	} else {
		mask &^= 1 << uint(id)
	}
	reg, val := RegPipeEnableLo, lo32(mask)
	if id >= 32 {
		reg, val = RegPipeEnableHi, hi32(mask)
	}
	if err := d.write(byte(reg), val); err != nil {
		return err
	}
	d.enabled = mask
	return nil
}

// EnabledPipes is the shadow of the enable mask.
func (d *Device) EnabledPipes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *Device) SetUpdateAll(on bool) error { return d.setCtrl(CtrlUpdateAll, on) }

func (d *Device) ConfigurePipe(id int, p types.JobParams) error {
	if id < 0 || id >= MaxPipes {
		return ErrPipeRange
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeSeq(
		regVal{RegPipeSel, uint32(id)},
		regVal{RegPipeWinLT, pack16(p.Window.Left, p.Window.Top)},
		regVal{RegPipeWinRB, pack16(p.Window.Right, p.Window.Bottom)},
		regVal{RegPipeFrames, p.TotalFrames},
		regVal{RegPipeMode, uint32(p.Mode)},
		regVal{RegPipeImageLo, lo32(p.Image.PhysAddr)},
		regVal{RegPipeImageHi, hi32(p.Image.PhysAddr)},
	)
}

func (d *Device) BindWaveform(id int, phys uint64) error {
	if id < 0 || id >= MaxPipes {
		return ErrPipeRange
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeSeq(
		regVal{RegPipeSel, uint32(id)},
		regVal{RegPipeWaveLo, lo32(phys)},
		regVal{RegPipeWaveHi, hi32(phys)},
	)
}

func (d *Device) DecodedFrames(id int) (uint32, error) {
	if id < 0 || id >= MaxPipes {
		return 0, ErrPipeRange
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.write(RegPipeSel, uint32(id)); err != nil {
		return 0, err
	}
	return d.read(RegPipeDecCount)
}

// ---- Decode engine ----

func (d *Device) PrepareDecode(phys uint64, panel types.Panel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := panel.Timing
	return d.writeSeq(
		regVal{RegDecodeAddrLo, lo32(phys)},
		regVal{RegDecodeAddrHi, hi32(phys)},
		regVal{RegLineTiming0, pack16(t.LBL, t.LSL)},
		regVal{RegLineTiming1, pack16(t.LDL, t.LEL)},
		regVal{RegFrameTiming0, pack16(t.FBL, t.FSL)},
		regVal{RegFrameTiming1, pack16(t.FDL, t.FEL)},
	)
}

func (d *Device) StartDecode() error { return d.pulse(CtrlDecodeStart) }

// ---- Transfer engine ----

func (d *Device) ConfigureTransfer(panel types.Panel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(RegXferSize, uint32(panel.FrameBytes()))
}

func (d *Device) SetTransferAddr(phys uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeSeq(
		regVal{RegXferAddrLo, lo32(phys)},
		regVal{RegXferAddrHi, hi32(phys)},
	)
}

func (d *Device) StartTransfer() error { return d.pulse(CtrlXferStart) }

// ---- Output ----

func (d *Device) SetOutputMode(panel types.Panel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := panel.OutputMode&0xFF | (panel.DataLen&0xFF)<<8 | (panel.BitNum&0xFF)<<16
	return d.write(RegOutMode, v)
}

func (d *Device) SetDataReverse() error { return d.setCtrl(CtrlDataReverse, true) }
func (d *Device) EnableIRQ() error      { return d.setCtrl(CtrlIRQEnable, true) }

// ---- Write-back ----

func (d *Device) SetWritebackAddr(phys uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeSeq(
		regVal{RegWritebackLo, lo32(phys)},
		regVal{RegWritebackHi, hi32(phys)},
	)
}

func (d *Device) SetWritebackFrames(n uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(RegWritebackFrms, n)
}

func (d *Device) EnableWriteback(on bool) error { return d.setCtrl(CtrlWritebackEn, on) }

// ---- Control register helpers ----

func (d *Device) setCtrl(bit uint32, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.ctrl
	if on {
		v |= bit
	} else {
		v &^= bit
	}
	if err := d.write(RegCtrl, v&ctrlPersistMask); err != nil {
		return err
	}
	d.ctrl = v & ctrlPersistMask
	return nil
}

// pulse writes a self-clearing start bit alongside the persistent bits.
func (d *Device) pulse(bit uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(RegCtrl, d.ctrl|bit&ctrlStartBits)
}

// ---- Register access ----

type regVal struct {
	reg byte
	val uint32
}

func (d *Device) writeSeq(seq ...regVal) error {
	for _, rv := range seq {
		if err := d.write(rv.reg, rv.val); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) write(reg byte, val uint32) error {
	d.w[0] = reg
	d.w[1] = byte(val)
	d.w[2] = byte(val >> 8)
	d.w[3] = byte(val >> 16)
	d.w[4] = byte(val >> 24)
	if err := d.i2c.Tx(d.addr, d.w[:5], nil); err != nil {
		return fmt.Errorf("einkctl: write 0x%02x: %w", reg, err)
	}
	return nil
}

func (d *Device) read(reg byte) (uint32, error) {
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:4]); err != nil {
		return 0, fmt.Errorf("einkctl: read 0x%02x: %w", reg, err)
	}
	return uint32(d.r[0]) | uint32(d.r[1])<<8 | uint32(d.r[2])<<16 | uint32(d.r[3])<<24, nil
}
