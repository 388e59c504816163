package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/hashicorp/go-multierror"

	"firestige.xyz/strouter/internal/layer"
	"firestige.xyz/strouter/internal/log"
	"firestige.xyz/strouter/internal/metrics"
)

const readErrorBackoff = 50 * time.Millisecond

// Port is the transport node at the bottom of an interface stack. It reads
// frames from its handle and passes them to the Ethernet layer above, and
// writes frames the Ethernet layer transmits for its instance.
type Port struct {
	*layer.Base
	device   string
	handle   Handle
	recorder *Recorder
	logger   log.Logger

	stopping atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPort wraps h. rec may be nil.
func NewPort(number int, device string, h Handle, rec *Recorder) *Port {
	p := &Port{
		Base:     layer.NewBase(layer.NameTransport, number),
		device:   device,
		handle:   h,
		recorder: rec,
	}
	p.logger = log.GetLogger().WithFields(map[string]interface{}{
		"layer":  p.ID().String(),
		"device": device,
	})
	return p
}

func (p *Port) Device() string { return p.device }

// Start launches the read loop.
func (p *Port) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
}

func (p *Port) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		data, ci, err := p.handle.ReadPacketData()
		if err != nil {
			if p.stopping.Load() || ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) {
				return
			}
			if isTimeout(err) {
				continue
			}
			p.logger.WithError(err).Warn("read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		metrics.FramesReceivedTotal.WithLabelValues(p.device).Inc()
		frame := append([]byte(nil), data...)
		p.record(ci, frame)
		if p.logger.IsTraceEnabled() {
			p.logger.Tracef("rx %s", Describe(frame))
		}
		up, ok := p.Upper(layer.NameEthernet, p.ID().Number).(layer.Receiver)
		if !ok {
			metrics.DropsTotal.WithLabelValues(layer.NameTransport, "no_upper").Inc()
			continue
		}
		up.Receive(p.ID().Number, frame)
	}
}

// Transmit writes frame when instance is this port's instance and ignores it
// otherwise. Failed writes are counted and not retried.
func (p *Port) Transmit(instance int, frame []byte) error {
	if instance != p.ID().Number {
		return nil
	}
	if p.stopping.Load() {
		return ErrClosed
	}
	if err := p.handle.WritePacketData(frame); err != nil {
		metrics.TransmitErrorsTotal.WithLabelValues(p.device).Inc()
		return err
	}
	metrics.FramesTransmittedTotal.WithLabelValues(p.device).Inc()
	p.record(gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(frame), Length: len(frame)}, frame)
	if p.logger.IsTraceEnabled() {
		p.logger.Tracef("tx %s", Describe(frame))
	}
	return nil
}

// Stop closes the handle, waits for the read loop and flushes the recorder.
func (p *Port) Stop() error {
	if !p.stopping.CompareAndSwap(false, true) {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	var errs error
	if err := p.handle.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	p.wg.Wait()
	if p.recorder != nil {
		if err := p.recorder.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

func (p *Port) record(ci gopacket.CaptureInfo, frame []byte) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Write(ci, frame); err != nil {
		p.logger.WithError(err).Debug("capture write failed")
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, pcap.NextErrorTimeoutExpired) || isRingTimeout(err)
}
