package nrf905

import (
	"strconv"

	"periph.io/x/conn/v3/gpio"
)

// Event is a change of the transceiver state signaled by DR and AM.
type Event byte

const (
	NoEvent    Event = iota
	RxComplete       // Valid payload received.
	RxInvalid        // Address matched but the payload was corrupted.
	TxComplete       // Transmission finished (next mode Standby or TX).
	AddrMatch        // Address matched, receiving payload.
)

func (e Event) String() string {
	switch e {
	case NoEvent:
		return "none"
	case RxComplete:
		return "RxComplete"
	case RxInvalid:
		return "RxInvalid"
	case TxComplete:
		return "TxComplete"
	case AddrMatch:
		return "AddrMatch"
	}
	return "Event(" + strconv.Itoa(int(e)) + ")"
}

// Events contains event callbacks. Nil callback means ignore the event.
// Callbacks are called synchronously from HandleDR, HandleAM or Poll,
// outside of any SPI conversation, so they can use the Device (eg. read
// the payload).
type Events struct {
	RxComplete func(d *Device)
	RxInvalid  func(d *Device)
	TxComplete func(d *Device)
	AddrMatch  func(d *Device)
}

func (e *Events) handler(ev Event) func(*Device) {
	switch ev {
	case RxComplete:
		return e.RxComplete
	case RxInvalid:
		return e.RxInvalid
	case TxComplete:
		return e.TxComplete
	case AddrMatch:
		return e.AddrMatch
	}
	return nil
}

// rxState tracks reception between AM and DR edges.
type rxState byte

const (
	rxIdle        rxState = iota
	rxAddrMatched         // AM rose, no DR yet.
	rxConfirmed           // DR rose while AM was high.
)

// SetEvents replaces the event callbacks.
func (d *Device) SetEvents(e Events) {
	d.mu.Lock()
	d.events = e
	d.mu.Unlock()
}

// amLocked reads AM from the pin or from the status register. ok is false if
// the status register couldn't be read.
func (d *Device) amLocked() (am, ok bool) {
	if d.pins.AM != nil {
		return d.pins.AM.Read() == gpio.High, true
	}
	s := d.cmdLocked(cmdNOP, nil, nil)
	return s&AM != 0, d.Err() == nil
}

// AddrMatched reports whether the address has matched and a payload is
// being received.
func (d *Device) AddrMatched() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	am, _ := d.amLocked()
	return am
}

// onDR handles the rising edge of DR. Must be called with d.mu held.
func (d *Device) onDR(am bool) Event {
	if am {
		d.rx = rxConfirmed
		return RxComplete
	}
	d.rx = rxIdle
	return TxComplete
}

// onAM handles any edge of AM. Must be called with d.mu held.
func (d *Device) onAM(am bool) Event {
	if am {
		d.rx = rxAddrMatched
		return AddrMatch
	}
	ev := NoEvent
	if d.rx == rxAddrMatched {
		ev = RxInvalid
	}
	d.rx = rxIdle
	return ev
}

func (d *Device) dispatch(ev Event, h func(*Device)) {
	if ev == NoEvent {
		return
	}
	d.log.Debug("event", "event", ev)
	if h != nil {
		h(d)
	}
}

// handle classifies an edge with on. Nothing is reported if AM can't be
// read, the receive state stays as it was.
func (d *Device) handle(on func(am bool) Event) {
	if d.polled {
		return
	}
	d.mu.Lock()
	ev := NoEvent
	if am, ok := d.amLocked(); ok {
		ev = on(am)
	}
	h := d.events.handler(ev)
	d.mu.Unlock()
	d.dispatch(ev, h)
}

// HandleDR handles the rising edge of DR. New attaches it to the DR pin if
// the pin implements Watcher, otherwise it should be called from the DR
// interrupt handler. It does nothing in polled mode or if the status
// register can't be read (see Err).
func (d *Device) HandleDR() {
	d.handle(d.onDR)
}

// HandleAM handles any edge of AM. New attaches it to the AM pin if the pin
// implements Watcher, otherwise it should be called from the AM interrupt
// handler. It does nothing in polled mode or if the status register can't
// be read (see Err).
//
// Falling AM reports RxInvalid only if it follows a rising AM that wasn't
// confirmed by DR. AM low without a preceding AddrMatch is ignored.
func (d *Device) HandleAM() {
	d.handle(d.onAM)
}

// statusLocked returns DR and AM. ok is false if the status register
// couldn't be read.
func (d *Device) statusLocked() (s Stat, ok bool) {
	if d.pins.DR != nil && d.pins.AM != nil {
		if d.pins.DR.Read() == gpio.High {
			s |= DR
		}
		if d.pins.AM.Read() == gpio.High {
			s |= AM
		}
		return s, true
	}
	s = d.cmdLocked(cmdNOP, nil, nil) & (DR | AM)
	return s, d.Err() == nil
}

// classify returns the event caused by the change of status from d.last
// to s. Must be called with d.mu held.
func (d *Device) classify(s Stat) Event {
	last := d.last
	d.last = s
	switch (s ^ last) & (DR | AM) {
	case 0:
		return NoEvent
	case AM:
		return d.onAM(s&AM != 0)
	case DR:
		if s&DR != 0 {
			return d.onDR(s&AM != 0)
		}
		return NoEvent
	}
	// Both lines changed since the last poll.
	switch s & (DR | AM) {
	case DR | AM:
		d.rx = rxConfirmed
		return RxComplete
	case DR:
		d.rx = rxIdle
		return TxComplete
	case AM:
		d.rx = rxAddrMatched
		return AddrMatch
	}
	return d.onAM(false)
}

// Poll reads DR and AM (from pins if both are connected, from the status
// register otherwise) and calls the callback for the event caused by their
// change since the previous call. It does nothing in interrupt mode. If the
// status register can't be read Poll returns NoEvent and the next successful
// call reports the change since the last successful one.
//
// Poll should be called at least every 1 ms. The reception of a 32 byte
// payload takes about 6 ms, a 1 byte payload about 1.1 ms, so less frequent
// calls can miss a whole packet.
func (d *Device) Poll() Event {
	if !d.polled {
		return NoEvent
	}
	d.mu.Lock()
	ev := NoEvent
	if s, ok := d.statusLocked(); ok {
		ev = d.classify(s)
	}
	h := d.events.handler(ev)
	d.mu.Unlock()
	d.dispatch(ev, h)
	return ev
}
