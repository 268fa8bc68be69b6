package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrUpsample is returned by [Resample] when the target rate is higher than
// the source rate. The box filter only decimates.
var ErrUpsample = errors.New("audio: upsampling is not supported")

// Resample converts samples from srcRate to dstRate using box-car averaging.
//
// Output sample i is the arithmetic mean of the input samples in
// [round(i*ratio), round((i+1)*ratio)), where ratio = srcRate/dstRate. The
// output length is round(len(samples)/ratio). Equal rates return a copy.
// dstRate > srcRate fails with [ErrUpsample].
func Resample(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rates %d -> %d", srcRate, dstRate)
	}
	if dstRate > srcRate {
		return nil, fmt.Errorf("%w: %d Hz -> %d Hz", ErrUpsample, srcRate, dstRate)
	}
	if srcRate == dstRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	ratio := float64(srcRate) / float64(dstRate)
	n := int(math.Round(float64(len(samples)) / ratio))
	out := make([]float32, n)

	offset := 0
	for i := range n {
		next := int(math.Round(float64(i+1) * ratio))
		if next > len(samples) {
			next = len(samples)
		}
		var sum float64
		count := 0
		for j := offset; j < next; j++ {
			sum += float64(samples[j])
			count++
		}
		switch {
		case count > 0:
			out[i] = float32(sum / float64(count))
		case offset < len(samples):
			out[i] = samples[offset]
		}
		offset = next
	}
	return out, nil
}

// FloatToPCM16 converts float samples to little-endian signed 16-bit PCM.
// Samples are clamped to [-1, 1]; negative values scale by 32768 and
// non-negative values by 32767, so both full-scale ends fit without overflow.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := FloatToInt16(s)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// FloatToInt16 converts a single float sample with the same clamping and
// asymmetric scaling as [FloatToPCM16].
func FloatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// FloatToInt16s converts a block of float samples to int16 values, e.g. for
// feeding a codec that takes native PCM.
func FloatToInt16s(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = FloatToInt16(s)
	}
	return out
}

// Downmix averages interleaved channels into mono. Mono input is returned
// unchanged. A trailing partial frame is discarded.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		base := i * channels
		for c := range channels {
			sum += samples[base+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
