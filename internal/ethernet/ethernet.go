// Package ethernet frames payloads for the transports below it and demultiplexes
// received frames to the ARP and IP layers above.
package ethernet

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"firestige.xyz/strouter/internal/addr"
	"firestige.xyz/strouter/internal/codec"
	"firestige.xyz/strouter/internal/layer"
	"firestige.xyz/strouter/internal/log"
	"firestige.xyz/strouter/internal/metrics"
)

var ErrNoTransport = errors.New("no transport below ethernet layer")

type Layer struct {
	*layer.Base
	reg    *layer.Registry
	logger log.Logger
}

func New(number int, reg *layer.Registry) *Layer {
	l := &Layer{
		Base: layer.NewBase(layer.NameEthernet, number),
		reg:  reg,
	}
	l.logger = log.ForLayer(l.ID())
	return l
}

// Send frames payload from the instance's MAC to dst and hands the frame to
// every transport below. Transports drop frames for instances they do not
// serve.
func (l *Layer) Send(instance int, dst addr.LinkAddress, payload []byte, etherType codec.EtherType) error {
	id, err := l.reg.Identity(instance)
	if err != nil {
		return err
	}
	frame := codec.EthernetFrame{
		Destination: dst,
		Source:      id.MAC(),
		Type:        etherType,
		Payload:     payload,
	}
	b, err := frame.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	var (
		errs    error
		handled bool
	)
	for _, n := range l.Lowers() {
		tx, ok := n.(layer.Transmitter)
		if !ok {
			continue
		}
		handled = true
		if err := tx.Transmit(instance, b); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", n.ID(), err))
		}
	}
	if !handled {
		return ErrNoTransport
	}
	return errs
}

// Receive accepts frames addressed to the instance's MAC or broadcast and
// passes the payload up by ether type. Frames the router sent itself are
// ignored.
func (l *Layer) Receive(instance int, data []byte) {
	frame, err := codec.DecodeEthernet(data)
	if err != nil {
		l.drop("malformed")
		return
	}
	id, err := l.reg.Identity(instance)
	if err != nil {
		l.logger.WithError(err).Warn("dropping frame")
		l.drop("no_identity")
		return
	}
	if frame.Source == id.MAC() {
		l.drop("own_frame")
		return
	}
	if !frame.Destination.IsBroadcast() && frame.Destination != id.MAC() {
		l.drop("not_for_us")
		return
	}

	var name string
	switch frame.Type {
	case codec.EtherTypeIPv4:
		name = layer.NameIP
	case codec.EtherTypeARP:
		name = layer.NameARP
	default:
		l.drop("ether_type")
		return
	}
	up, ok := l.Upper(name, l.ID().Number).(layer.Receiver)
	if !ok {
		l.drop("no_upper")
		return
	}
	if l.logger.IsTraceEnabled() {
		l.logger.Tracef("%s > %s %s, %d bytes", frame.Source, frame.Destination, frame.Type, len(frame.Payload))
	}
	up.Receive(instance, frame.Payload)
}

func (l *Layer) drop(reason string) {
	metrics.DropsTotal.WithLabelValues(layer.NameEthernet, reason).Inc()
}
