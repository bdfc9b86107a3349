package nrf905

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/gpio"
)

func recorder(evs *[]Event) Events {
	rec := func(ev Event) func(*Device) {
		return func(*Device) { *evs = append(*evs, ev) }
	}
	return Events{
		RxComplete: rec(RxComplete),
		RxInvalid:  rec(RxInvalid),
		TxComplete: rec(TxComplete),
		AddrMatch:  rec(AddrMatch),
	}
}

// Sequences of {DR, AM} status values, each differing from the previous one
// by one line.
var statusSeqs = []struct {
	name string
	seq  []Stat
	want []Event
}{
	{"rx", []Stat{AM, AM | DR, AM, 0}, []Event{AddrMatch, RxComplete}},
	{"rx am falls first", []Stat{AM, AM | DR, DR, 0}, []Event{AddrMatch, RxComplete}},
	{"rx invalid", []Stat{AM, 0}, []Event{AddrMatch, RxInvalid}},
	{"tx", []Stat{DR, 0}, []Event{TxComplete}},
	{"tx then rx invalid", []Stat{DR, DR | AM, DR, 0}, []Event{TxComplete, AddrMatch, RxInvalid}},
	{
		"rx twice",
		[]Stat{AM, AM | DR, AM, 0, AM, 0, AM, AM | DR, DR, 0},
		[]Event{AddrMatch, RxComplete, AddrMatch, RxInvalid, AddrMatch, RxComplete},
	},
}

// interrupt drives pins and calls handlers the way edge interrupts would.
func interrupt(r *rig, d *Device, seq []Stat) {
	var last Stat
	for _, s := range seq {
		if (s^last)&AM != 0 {
			r.am.set(s&AM != 0)
			d.HandleAM()
		}
		if (s^last)&DR != 0 {
			r.dr.set(s&DR != 0)
			if s&DR != 0 {
				d.HandleDR()
			}
		}
		last = s
	}
}

func TestInterruptEvents(t *testing.T) {
	for _, tt := range statusSeqs {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig()
			var evs []Event
			cfg := r.config()
			cfg.Events = recorder(&evs)
			d := r.open(t, r.pins(), cfg)
			interrupt(r, d, tt.seq)
			if !equalEvents(evs, tt.want) {
				t.Errorf("events %v, want %v", evs, tt.want)
			}
		})
	}
}

func TestPolledEvents(t *testing.T) {
	for _, tt := range statusSeqs {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig()
			pins := r.pins()
			pins.DR, pins.AM = nil, nil
			var evs []Event
			cfg := r.config()
			cfg.Events = recorder(&evs)
			d := r.open(t, pins, cfg)
			var ret []Event
			for _, s := range tt.seq {
				r.chip.SetStatus(byte(s))
				if ev := d.Poll(); ev != NoEvent {
					ret = append(ret, ev)
				}
				// Unchanged status doesn't repeat events.
				if ev := d.Poll(); ev != NoEvent {
					t.Fatalf("repeated %v", ev)
				}
			}
			if !equalEvents(evs, tt.want) {
				t.Errorf("events %v, want %v", evs, tt.want)
			}
			if !equalEvents(ret, tt.want) {
				t.Errorf("returned events %v, want %v", ret, tt.want)
			}
		})
	}
}

func TestPolledReadsPins(t *testing.T) {
	r := newRig()
	var evs []Event
	cfg := r.config()
	cfg.Polled = true
	cfg.Events = recorder(&evs)
	d := r.open(t, r.pins(), cfg)
	for _, s := range []Stat{AM, AM | DR, 0} {
		r.am.set(s&AM != 0)
		r.dr.set(s&DR != 0)
		d.Poll()
	}
	if want := []Event{AddrMatch, RxComplete}; !equalEvents(evs, want) {
		t.Errorf("events %v, want %v", evs, want)
	}
	if n := len(r.chip.Conversations()); n != 0 {
		t.Errorf("Poll read the status register %d times", n)
	}
}

// Both lines changed between two polls.
func TestPolledMissedEdges(t *testing.T) {
	tests := []struct {
		seq  []Stat
		want []Event
	}{
		{[]Stat{AM | DR, 0}, []Event{RxComplete}},
		{[]Stat{AM, DR}, []Event{AddrMatch, TxComplete}},
		{[]Stat{DR, AM}, []Event{TxComplete, AddrMatch}},
		{[]Stat{AM, AM | DR, 0, AM, 0}, []Event{AddrMatch, RxComplete, AddrMatch, RxInvalid}},
	}
	for _, tt := range tests {
		r := newRig()
		pins := r.pins()
		pins.DR, pins.AM = nil, nil
		d := r.open(t, pins, nil)
		var evs []Event
		for _, s := range tt.seq {
			r.chip.SetStatus(byte(s))
			if ev := d.Poll(); ev != NoEvent {
				evs = append(evs, ev)
			}
		}
		if !equalEvents(evs, tt.want) {
			t.Errorf("%v: events %v, want %v", tt.seq, evs, tt.want)
		}
	}
}

func TestDisciplineEquivalence(t *testing.T) {
	for _, tt := range statusSeqs {
		r := newRig()
		var ie []Event
		cfg := r.config()
		cfg.Events = recorder(&ie)
		interrupt(r, r.open(t, r.pins(), cfg), tt.seq)

		r = newRig()
		var pe []Event
		cfg = r.config()
		cfg.Events = recorder(&pe)
		pins := r.pins()
		pins.DR = nil
		d := r.open(t, pins, cfg)
		for _, s := range tt.seq {
			r.chip.SetStatus(byte(s))
			d.Poll()
		}
		if !equalEvents(ie, pe) {
			t.Errorf("%s: interrupt %v, polled %v", tt.name, ie, pe)
		}
	}
}

func TestHandlersIgnoredInPolledMode(t *testing.T) {
	r := newRig()
	var evs []Event
	cfg := r.config()
	cfg.Polled = true
	cfg.Events = recorder(&evs)
	d := r.open(t, r.pins(), cfg)
	r.am.set(gpio.High)
	d.HandleAM()
	r.dr.set(gpio.High)
	d.HandleDR()
	if len(evs) != 0 {
		t.Errorf("events in polled mode: %v", evs)
	}
}

func TestPollIgnoredInInterruptMode(t *testing.T) {
	r := newRig()
	var evs []Event
	cfg := r.config()
	cfg.Events = recorder(&evs)
	d := r.open(t, r.pins(), cfg)
	r.am.set(gpio.High)
	if ev := d.Poll(); ev != NoEvent || len(evs) != 0 {
		t.Errorf("Poll in interrupt mode: %v %v", ev, evs)
	}
}

func TestHandleAMReadsStatusWithoutPin(t *testing.T) {
	r := newRig()
	pins := r.pins()
	pins.AM = nil
	var evs []Event
	cfg := r.config()
	cfg.Events = recorder(&evs)
	d := r.open(t, pins, cfg)

	r.chip.SetStatus(byte(AM))
	r.dr.set(gpio.High)
	d.HandleDR()
	r.chip.SetStatus(byte(0))
	r.dr.set(gpio.Low)
	r.dr.set(gpio.High)
	d.HandleDR()
	if want := []Event{RxComplete, TxComplete}; !equalEvents(evs, want) {
		t.Errorf("events %v, want %v", evs, want)
	}
	if n := len(r.chip.Conversations()); n != 2 {
		t.Errorf("%d status reads, want 2", n)
	}
}

func TestCallbackReadsPayload(t *testing.T) {
	r := newRig()
	copy(r.chip.RxPayload[:], "hello")
	var got []byte
	cfg := r.config()
	cfg.Events.RxComplete = func(d *Device) {
		p := make([]byte, 5)
		d.Read(p)
		got = p
	}
	d := r.open(t, r.pins(), cfg)
	interrupt(r, d, []Stat{AM, AM | DR})
	if string(got) != "hello" {
		t.Errorf("payload %q", got)
	}
}

func TestSetEvents(t *testing.T) {
	r := newRig()
	d := r.open(t, r.pins(), nil)
	var evs []Event
	d.SetEvents(recorder(&evs))
	interrupt(r, d, []Stat{DR})
	if want := []Event{TxComplete}; !equalEvents(evs, want) {
		t.Errorf("events %v, want %v", evs, want)
	}
}

func TestAddrMatched(t *testing.T) {
	r := newRig()
	d := r.open(t, r.pins(), nil)
	r.am.set(gpio.High)
	if !d.AddrMatched() {
		t.Error("AM pin high, AddrMatched false")
	}

	r = newRig()
	pins := r.pins()
	pins.AM = nil
	d = r.open(t, pins, nil)
	r.chip.SetStatus(byte(AM))
	if !d.AddrMatched() {
		t.Error("AM status bit set, AddrMatched false")
	}
}

func TestHandleDRStatusError(t *testing.T) {
	r := newRig()
	pins := r.pins()
	pins.AM = nil
	var evs []Event
	cfg := r.config()
	cfg.Events = recorder(&evs)
	d := r.open(t, pins, cfg)

	r.chip.Err = errors.New("spi glitch")
	d.NOP()
	r.chip.Err = nil
	r.chip.Receive([]byte("hi"))
	r.dr.set(gpio.High)
	d.HandleDR()
	if len(evs) != 0 {
		t.Errorf("events %v with status unreadable", evs)
	}
	if d.rx != rxIdle {
		t.Errorf("receive state %d changed", d.rx)
	}

	d.ClearErr()
	d.HandleDR()
	if want := []Event{RxComplete}; !equalEvents(evs, want) {
		t.Errorf("events %v, want %v", evs, want)
	}
}

func TestHandleAMStatusError(t *testing.T) {
	r := newRig()
	pins := r.pins()
	pins.AM = nil
	var evs []Event
	cfg := r.config()
	cfg.Events = recorder(&evs)
	d := r.open(t, pins, cfg)

	r.chip.SetStatus(byte(AM))
	d.HandleAM()
	r.chip.Err = errors.New("spi glitch")
	d.HandleAM()
	r.chip.Err = nil
	if want := []Event{AddrMatch}; !equalEvents(evs, want) {
		t.Errorf("events %v, want %v", evs, want)
	}
	if d.rx != rxAddrMatched {
		t.Errorf("receive state %d, want %d", d.rx, rxAddrMatched)
	}
}

func TestHandleAMLowWithoutMatch(t *testing.T) {
	r := newRig()
	var evs []Event
	cfg := r.config()
	cfg.Events = recorder(&evs)
	d := r.open(t, r.pins(), cfg)
	d.HandleAM()
	if len(evs) != 0 {
		t.Errorf("events %v for AM low without AddrMatch", evs)
	}
}

func TestPollStatusError(t *testing.T) {
	r := newRig()
	pins := r.pins()
	pins.DR, pins.AM = nil, nil
	var evs []Event
	cfg := r.config()
	cfg.Events = recorder(&evs)
	d := r.open(t, pins, cfg)

	r.chip.SetStatus(byte(AM))
	r.chip.Err = errors.New("spi glitch")
	if ev := d.Poll(); ev != NoEvent {
		t.Errorf("Poll = %v with status unreadable", ev)
	}
	r.chip.Err = nil
	if ev := d.Poll(); ev != NoEvent {
		t.Errorf("Poll = %v with error set", ev)
	}
	d.ClearErr()
	if ev := d.Poll(); ev != AddrMatch {
		t.Errorf("Poll = %v after ClearErr, want AddrMatch", ev)
	}
	if want := []Event{AddrMatch}; !equalEvents(evs, want) {
		t.Errorf("events %v, want %v", evs, want)
	}
}
