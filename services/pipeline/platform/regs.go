package platform

import (
	"sync"
	"time"

	"einkpipe-go/drivers/einkctl"
)

// RegisterController is the register-bus driver wired to a RecordingI2C
// that answers start pulses with completion interrupts.
type RegisterController struct {
	*einkctl.Device
	Bus *RecordingI2C

	latency    time.Duration
	mu         sync.Mutex
	onDecode   func()
	onTransfer func()
}

func NewRegisterController(latency time.Duration) *RegisterController {
	bus := NewRecordingI2C()
	rc := &RegisterController{
		Device:  einkctl.New(bus, einkctl.DefaultConfig()),
		Bus:     bus,
		latency: latency,
	}
	bus.OnWrite(rc.observe)
	return rc
}

func (rc *RegisterController) SetInterrupts(decodeDone, transferDone func()) {
	rc.mu.Lock()
	rc.onDecode, rc.onTransfer = decodeDone, transferDone
	rc.mu.Unlock()
}

func (rc *RegisterController) observe(reg byte, val uint32) {
	if reg != einkctl.RegCtrl || val&einkctl.CtrlIRQEnable == 0 {
		return
	}
	rc.mu.Lock()
	dec, xfer := rc.onDecode, rc.onTransfer
	rc.mu.Unlock()
	if val&einkctl.CtrlDecodeStart != 0 && dec != nil {
		time.AfterFunc(rc.latency, dec)
	}
	if val&einkctl.CtrlXferStart != 0 && xfer != nil {
		time.AfterFunc(rc.latency, xfer)
	}
}
