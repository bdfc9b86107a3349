// Package nrfnet provides a packet interface on top of nrf905.Device:
// received payloads are queued, Send blocks until the packet is sent.
package nrfnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/jonboulle/clockwork"

	"github.com/ziutek/nrf905"
)

var (
	// ErrCollision is returned by Send if the carrier was detected before
	// the transmission.
	ErrCollision = errors.New("nrfnet: collision")

	// ErrClosed is returned by Recv and Send after Close.
	ErrClosed = errors.New("nrfnet: interface closed")

	// ErrDevice is returned by Recv if a Device command failed. Reception
	// resumes after Device().ClearErr().
	ErrDevice = errors.New("nrfnet: device failed")
)

// Packet is a received payload.
type Packet struct {
	Data []byte
	Time time.Time
}

// Config contains Interface parameters. Zero value is valid.
type Config struct {
	// QueueLen is the initial capacity of the receive queue (default 16).
	QueueLen int64

	// PollPeriod is the period of Poll calls made by Run in polled mode
	// (default 500 µs).
	PollPeriod time.Duration

	// CollisionAvoid enables carrier detection before every transmission.
	CollisionAvoid bool

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Interface sends and receives packets using nrf905.Device. It takes over
// the Device event callbacks.
type Interface struct {
	dev *nrf905.Device
	cfg Config
	log *slog.Logger

	rx     *queue.Queue
	txDone chan struct{}
	txMu   sync.Mutex

	invalid atomic.Uint64
	closed  atomic.Bool
}

// recvPeriod limits the time Recv waits for a packet before checking its
// context.
const recvPeriod = 20 * time.Millisecond

// NewInterface returns Interface that uses dev and puts the transceiver
// into RX mode.
func NewInterface(dev *nrf905.Device, cfg *Config) *Interface {
	i := new(Interface)
	if cfg != nil {
		i.cfg = *cfg
	}
	if i.cfg.QueueLen <= 0 {
		i.cfg.QueueLen = 16
	}
	if i.cfg.PollPeriod <= 0 {
		i.cfg.PollPeriod = 500 * time.Microsecond
	}
	if i.cfg.Clock == nil {
		i.cfg.Clock = clockwork.NewRealClock()
	}
	i.log = i.cfg.Logger
	if i.log == nil {
		i.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	i.log = i.log.With("component", "nrfnet")
	i.dev = dev
	i.rx = queue.New(i.cfg.QueueLen)
	i.txDone = make(chan struct{}, 1)
	dev.SetEvents(nrf905.Events{
		RxComplete: i.rxComplete,
		RxInvalid:  i.rxInvalid,
		TxComplete: i.txComplete,
		AddrMatch:  i.addrMatch,
	})
	dev.RX()
	return i
}

// Device returns the underlying device.
func (i *Interface) Device() *nrf905.Device {
	return i.dev
}

func (i *Interface) rxComplete(d *nrf905.Device) {
	_, n := d.Regs().PayloadSize()
	p := make([]byte, n)
	d.Read(p)
	if err := d.Err(); err != nil {
		i.log.Warn("payload not read", "err", err)
		return
	}
	if err := i.rx.Put(Packet{Data: p, Time: i.cfg.Clock.Now()}); err != nil {
		i.log.Warn("packet dropped", "err", err)
		return
	}
	i.log.Debug("packet received", "len", len(p), "queued", i.rx.Len())
}

func (i *Interface) rxInvalid(*nrf905.Device) {
	n := i.invalid.Add(1)
	i.log.Debug("invalid packet", "count", n)
}

func (i *Interface) txComplete(*nrf905.Device) {
	select {
	case i.txDone <- struct{}{}:
	default:
	}
}

func (i *Interface) addrMatch(*nrf905.Device) {
	i.log.Debug("address matched")
}

// IRQ handles the transceiver state change. It can be called periodically
// (polling) or called by ISR if the Device works in polled mode but the
// platform has its own way to detect changes of DR and AM.
func (i *Interface) IRQ() {
	i.dev.Poll()
}

// Run calls IRQ every PollPeriod until ctx is done. It returns immediately
// if the Device works in interrupt mode.
func (i *Interface) Run(ctx context.Context) error {
	if !i.dev.Polled() {
		return nil
	}
	t := i.cfg.Clock.NewTicker(i.cfg.PollPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Chan():
			i.IRQ()
		}
	}
}

// Send sends p (truncated to nrf905.MaxPayload) to the device with address
// to and waits for the end of the transmission. Next the transceiver is put
// back into RX mode. In polled mode someone has to call IRQ (see Run).
func (i *Interface) Send(ctx context.Context, to uint32, p []byte) error {
	if i.closed.Load() {
		return ErrClosed
	}
	i.txMu.Lock()
	defer i.txMu.Unlock()
	select {
	case <-i.txDone:
	default:
	}
	i.dev.Write(to, p)
	if !i.dev.TX(nrf905.Standby, i.cfg.CollisionAvoid) {
		if err := i.dev.Err(); err != nil {
			return err
		}
		return ErrCollision
	}
	defer i.dev.RX()
	select {
	case <-i.txDone:
		return i.dev.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the next received packet. It blocks until a packet is
// received, ctx is done, the Interface is closed or the Device fails. Queued
// packets are returned before the Device error.
func (i *Interface) Recv(ctx context.Context) (Packet, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Packet{}, err
		}
		items, err := i.rx.Poll(1, recvPeriod)
		switch {
		case err == nil:
			return items[0].(Packet), nil
		case errors.Is(err, queue.ErrTimeout):
			if err := i.dev.Err(); err != nil {
				return Packet{}, fmt.Errorf("%w: %w", ErrDevice, err)
			}
		case errors.Is(err, queue.ErrDisposed):
			return Packet{}, ErrClosed
		default:
			return Packet{}, err
		}
	}
}

// Len returns the number of queued packets.
func (i *Interface) Len() int {
	return int(i.rx.Len())
}

// Invalid returns the number of corrupted packets received so far.
func (i *Interface) Invalid() uint64 {
	return i.invalid.Load()
}

// Close detaches the Interface from the Device, puts the transceiver into
// standby mode and discards queued packets.
func (i *Interface) Close() error {
	if i.closed.Swap(true) {
		return ErrClosed
	}
	i.dev.SetEvents(nrf905.Events{})
	i.dev.Standby()
	i.rx.Dispose()
	return i.dev.Err()
}
