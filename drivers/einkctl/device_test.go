package einkctl

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"einkpipe-go/types"
)

// regBus is a register file behind drivers.I2C.
type regBus struct {
	mu     sync.Mutex
	regs   map[byte]uint32
	writes []regVal
	fail   error
	addr   uint16
	banked map[uint32]map[byte]uint32 // pipe -> banked registers
}

func newRegBus() *regBus {
	return &regBus{regs: map[byte]uint32{}, banked: map[uint32]map[byte]uint32{}}
}

func (b *regBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addr = addr
	if b.fail != nil {
		return b.fail
	}
	switch {
	case len(w) == 5 && len(r) == 0:
		v := binary.LittleEndian.Uint32(w[1:])
		b.regs[w[0]] = v
		b.writes = append(b.writes, regVal{w[0], v})
	case len(w) == 1 && len(r) == 4:
		v := b.regs[w[0]]
		if w[0] == RegPipeDecCount {
			v = b.banked[b.regs[RegPipeSel]][w[0]]
		}
		binary.LittleEndian.PutUint32(r, v)
	default:
		return errors.New("malformed transaction")
	}
	return nil
}

func (b *regBus) written() []regVal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]regVal(nil), b.writes...)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, Config{}.Validate(), ErrNoAddress)
}

func TestPipeEnableMaskSplitsBanks(t *testing.T) {
	bus := newRegBus()
	d := New(bus, DefaultConfig())

	require.NoError(t, d.EnablePipe(3))
	require.NoError(t, d.EnablePipe(40))
	require.NoError(t, d.DisablePipe(3))

	assert.Equal(t, []regVal{
		{RegPipeEnableLo, 1 << 3},
		{RegPipeEnableHi, 1 << 8},
		{RegPipeEnableLo, 0},
	}, bus.written())
	assert.Equal(t, uint64(1)<<40, d.EnabledPipes())
	assert.Equal(t, uint16(AddressDefault), bus.addr)

	assert.ErrorIs(t, d.EnablePipe(64), ErrPipeRange)
	assert.ErrorIs(t, d.DisablePipe(-1), ErrPipeRange)
}

func TestConfigurePipeWritesBank(t *testing.T) {
	bus := newRegBus()
	d := New(bus, DefaultConfig())

	p := types.JobParams{
		Window:      types.UpdateWindow{Left: 10, Top: 20, Right: 300, Bottom: 400},
		Image:       types.ImageRef{PhysAddr: 0x1_2345_6789},
		TotalFrames: 12,
		Mode:        types.ModeGC16,
	}
	require.NoError(t, d.ConfigurePipe(7, p))
	require.NoError(t, d.BindWaveform(7, 0xABCD_0000))

	assert.Equal(t, []regVal{
		{RegPipeSel, 7},
		{RegPipeWinLT, 10 | 20<<16},
		{RegPipeWinRB, 300 | 400<<16},
		{RegPipeFrames, 12},
		{RegPipeMode, uint32(types.ModeGC16)},
		{RegPipeImageLo, 0x2345_6789},
		{RegPipeImageHi, 1},
		{RegPipeSel, 7},
		{RegPipeWaveLo, 0xABCD_0000},
		{RegPipeWaveHi, 0},
	}, bus.written())
}

func TestDecodedFramesReadsSelectedBank(t *testing.T) {
	bus := newRegBus()
	bus.banked[5] = map[byte]uint32{RegPipeDecCount: 9}
	d := New(bus, DefaultConfig())

	n, err := d.DecodedFrames(5)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), n)

	n, err = d.DecodedFrames(6)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestControlBitsPersistAcrossPulses(t *testing.T) {
	bus := newRegBus()
	d := New(bus, DefaultConfig())

	require.NoError(t, d.EnableIRQ())
	require.NoError(t, d.SetDataReverse())
	require.NoError(t, d.StartDecode())
	require.NoError(t, d.StartTransfer())
	require.NoError(t, d.SetUpdateAll(true))
	require.NoError(t, d.SetUpdateAll(false))

	base := uint32(CtrlIRQEnable | CtrlDataReverse)
	assert.Equal(t, []regVal{
		{RegCtrl, CtrlIRQEnable},
		{RegCtrl, base},
		{RegCtrl, base | CtrlDecodeStart},
		{RegCtrl, base | CtrlXferStart},
		{RegCtrl, base | CtrlUpdateAll},
		{RegCtrl, base},
	}, bus.written())
}

func TestDecodeAndTransferProgramming(t *testing.T) {
	bus := newRegBus()
	d := New(bus, DefaultConfig())
	panel := types.Panel{
		BitNum: 4, DataLen: 8, OutputMode: 2,
		Timing: types.Timing{LBL: 1, LSL: 2, LDL: 3, LEL: 4, FBL: 5, FSL: 6, FDL: 7, FEL: 8},
	}

	require.NoError(t, d.PrepareDecode(0x8000_0000, panel))
	require.NoError(t, d.ConfigureTransfer(panel))
	require.NoError(t, d.SetTransferAddr(0x9000_0000))
	require.NoError(t, d.SetOutputMode(panel))

	assert.Equal(t, []regVal{
		{RegDecodeAddrLo, 0x8000_0000},
		{RegDecodeAddrHi, 0},
		{RegLineTiming0, 1 | 2<<16},
		{RegLineTiming1, 3 | 4<<16},
		{RegFrameTiming0, 5 | 6<<16},
		{RegFrameTiming1, 7 | 8<<16},
		{RegXferSize, uint32(panel.FrameBytes())},
		{RegXferAddrLo, 0x9000_0000},
		{RegXferAddrHi, 0},
		{RegOutMode, 2 | 8<<8 | 4<<16},
	}, bus.written())
}

func TestWriteback(t *testing.T) {
	bus := newRegBus()
	d := New(bus, DefaultConfig())
	require.NoError(t, d.SetWritebackAddr(0x4000))
	require.NoError(t, d.SetWritebackFrames(0))
	require.NoError(t, d.EnableWriteback(true))
	require.NoError(t, d.EnableWriteback(false))

	assert.Equal(t, []regVal{
		{RegWritebackLo, 0x4000},
		{RegWritebackHi, 0},
		{RegWritebackFrms, 0},
		{RegCtrl, CtrlWritebackEn},
		{RegCtrl, 0},
	}, bus.written())
}

func TestBusErrorsKeepShadow(t *testing.T) {
	bus := newRegBus()
	d := New(bus, DefaultConfig())
	bus.fail = errors.New("nack")

	err := d.EnablePipe(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "einkctl: write 0x02")
	assert.Zero(t, d.EnabledPipes())

	_, err = d.DecodedFrames(1)
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	bus := newRegBus()
	d := New(bus, Config{Address: 0x3D})
	require.NoError(t, d.EnablePipe(1))
	require.NoError(t, d.EnableIRQ())
	require.NoError(t, d.Reset())
	assert.Zero(t, d.EnabledPipes())
	assert.Equal(t, uint32(0), bus.regs[RegCtrl])
	assert.Equal(t, uint16(0x3D), bus.addr)
}
