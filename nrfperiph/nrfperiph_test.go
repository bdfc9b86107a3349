package nrfperiph

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/conn/v3/spi/spitest"

	"github.com/ziutek/nrf905"
)

func newPin(name string) *gpiotest.Pin {
	return &gpiotest.Pin{
		N:         name,
		Num:       -1,
		EdgesChan: make(chan gpio.Level, 1),
		Clock:     clockwork.NewRealClock(),
	}
}

type board struct {
	trx, tx, pwr, cd, dr, am *gpiotest.Pin
	spi                      *spiPort
}

// spiPort records the last playback handed out by the registered opener.
type spiPort struct {
	ops  []conntest.IO
	last *playback
}

func register(t *testing.T, prefix string, ops []conntest.IO) (*board, *Config) {
	t.Helper()
	b := &board{
		trx: newPin(prefix + "_TRX"),
		tx:  newPin(prefix + "_TX"),
		pwr: newPin(prefix + "_PWR"),
		cd:  newPin(prefix + "_CD"),
		dr:  newPin(prefix + "_DR"),
		am:  newPin(prefix + "_AM"),
		spi: &spiPort{ops: ops},
	}
	for _, p := range []*gpiotest.Pin{b.trx, b.tx, b.pwr, b.cd, b.dr, b.am} {
		if err := gpioreg.Register(p); err != nil {
			t.Fatal(err)
		}
		name := p.N
		t.Cleanup(func() { gpioreg.Unregister(name) })
	}
	port := prefix + "_SPI"
	err := spireg.Register(port, nil, -1, func() (spi.PortCloser, error) {
		b.spi.last = newPlayback(b.spi.ops)
		return b.spi.last, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { spireg.Unregister(port) })
	cfg := &Config{
		SPI: port,
		TRX: b.trx.N, TX: b.tx.N, PWR: b.pwr.N,
		CD: b.cd.N, DR: b.dr.N, AM: b.am.N,
	}
	return b, cfg
}

func initOps() []conntest.IO {
	regs := nrf905.DefaultConfig().Regs()
	return []conntest.IO{
		{W: append([]byte{0x00}, regs[:]...), R: make([]byte, 1+nrf905.RegCount)},
		{W: []byte{0x22, 0xe7, 0xe7, 0xe7, 0xe7}, R: make([]byte, 5)},
		{W: append([]byte{0x20}, make([]byte, nrf905.MaxPayload)...), R: make([]byte, 1+nrf905.MaxPayload)},
	}
}

func TestOpen(t *testing.T) {
	b, cfg := register(t, "OPEN", initOps())
	events := make(chan nrf905.Event, 4)
	dcfg := nrf905.DefaultConfig()
	dcfg.Events.TxComplete = func(*nrf905.Device) { events <- nrf905.TxComplete }
	dcfg.Events.AddrMatch = func(*nrf905.Device) { events <- nrf905.AddrMatch }

	r, err := open(cfg, dcfg)
	if err != nil {
		t.Fatal(err)
	}
	if r.Polled() {
		t.Error("DR and AM connected but device is polled")
	}
	if m := r.Mode(); m != nrf905.PowerDown {
		t.Errorf("mode %v", m)
	}

	b.dr.EdgesChan <- gpio.High
	select {
	case ev := <-events:
		if ev != nrf905.TxComplete {
			t.Errorf("event %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("DR edge not handled")
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if b.pwr.Read() != gpio.Low {
		t.Error("PWR high after Close")
	}
}

func TestOpenPolled(t *testing.T) {
	_, cfg := register(t, "POLLED", initOps())
	cfg.DR, cfg.AM = "", ""
	r, err := open(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Polled() {
		t.Error("device not polled without DR")
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenCSN(t *testing.T) {
	b, cfg := register(t, "CSN", initOps())
	csn := newPin("CSN_CSN")
	if err := gpioreg.Register(csn); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { gpioreg.Unregister("CSN_CSN") })
	cfg.CSN = csn.N
	r, err := open(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if csn.Read() != gpio.High {
		t.Error("CSN left asserted")
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if n := b.spi.last.Count; n != 3 {
		t.Errorf("%d SPI transactions, want 3", n)
	}
}

func TestOpenErrors(t *testing.T) {
	b, cfg := register(t, "ERR", initOps())
	cfg.AM = "ERR_NOSUCHPIN"
	if _, err := open(cfg, nil); err == nil {
		t.Error("opened with unknown pin")
	}
	if !b.spi.last.closed {
		t.Error("SPI port not closed")
	}

	_, cfg = register(t, "ERR2", nil)
	cfg.SPI = "ERR2_NOSUCHPORT"
	if _, err := open(cfg, nil); err == nil {
		t.Error("opened with unknown SPI port")
	}
}

func TestPinWatch(t *testing.T) {
	gp := newPin("W")
	p := &Pin{PinIO: gp}
	calls := make(chan gpio.Level, 2)
	handler := func() { calls <- p.Read() }
	if err := p.Watch(gpio.BothEdges, handler); err != nil {
		t.Fatal(err)
	}
	if err := p.Watch(gpio.BothEdges, handler); err == nil {
		t.Error("watched twice")
	}
	for _, l := range []gpio.Level{gpio.High, gpio.Low} {
		gp.EdgesChan <- l
		select {
		case got := <-calls:
			if got != l {
				t.Errorf("handler read %v, want %v", got, l)
			}
		case <-time.After(time.Second):
			t.Fatalf("edge %v not handled", l)
		}
	}
	if err := p.Unwatch(); err != nil {
		t.Fatal(err)
	}
	gp.EdgesChan <- gpio.High
	select {
	case <-calls:
		t.Error("handler called after Unwatch")
	case <-time.After(2 * watchTimeout):
	}
	if err := p.Unwatch(); err != nil {
		t.Errorf("second Unwatch: %v", err)
	}
}

func TestPinWatchRequiresEdges(t *testing.T) {
	p := &Pin{PinIO: &gpiotest.Pin{N: "NOEDGE"}}
	if err := p.Watch(gpio.RisingEdge, func() {}); err == nil {
		t.Fatal("Watch succeeded on pin without edge detection")
	}
}

// playback records Close of the SPI port.
type playback struct {
	*spitest.Playback
	closed bool
}

func newPlayback(ops []conntest.IO) *playback {
	pb := &spitest.Playback{}
	pb.Ops = ops
	pb.DontPanic = true
	return &playback{Playback: pb}
}

func (p *playback) Close() error {
	p.closed = true
	return p.Playback.Close()
}
