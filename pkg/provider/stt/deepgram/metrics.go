package deepgram

import "go.opentelemetry.io/otel/metric"

const meterName = "github.com/MrWong99/meetcaption/pkg/provider/stt/deepgram"

// instruments holds the transport metric instruments. They are shared by all
// sessions of a Provider.
type instruments struct {
	chunksSent    metric.Int64Counter
	chunksDropped metric.Int64Counter
	fallbacks     metric.Int64Counter
	closes        metric.Int64Counter
	errors        metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	m := mp.Meter(meterName)
	var err error
	inst := &instruments{}

	if inst.chunksSent, err = m.Int64Counter("meetcaption.transport.chunks_sent",
		metric.WithDescription("Audio chunks sent to the recognition backend by encoding."),
	); err != nil {
		return nil, err
	}
	if inst.chunksDropped, err = m.Int64Counter("meetcaption.transport.chunks_dropped",
		metric.WithDescription("Audio chunks dropped because the transport was not open."),
	); err != nil {
		return nil, err
	}
	if inst.fallbacks, err = m.Int64Counter("meetcaption.transport.fallbacks",
		metric.WithDescription("Transitions from linear PCM to the Opus/WebM fallback encoding."),
	); err != nil {
		return nil, err
	}
	if inst.closes, err = m.Int64Counter("meetcaption.transport.closes",
		metric.WithDescription("Terminal transport closes by encoding."),
	); err != nil {
		return nil, err
	}
	if inst.errors, err = m.Int64Counter("meetcaption.transport.recognition_errors",
		metric.WithDescription("Diagnostic error messages received from the recognition backend."),
	); err != nil {
		return nil, err
	}
	return inst, nil
}
