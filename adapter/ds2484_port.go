package adapter

import "time"

// Adjustable port parameter selectors (payload bits 7:5).
const (
	paramResetLow          byte = 0x0 // tRSTL
	paramPresenceSample    byte = 0x1 // tMSP
	paramWriteZeroLow      byte = 0x2 // tW0L
	paramWriteZeroRecovery byte = 0x3 // tREC0
	paramWeakPullup        byte = 0x4 // RWPU
)

// PortConfig holds the 1-Wire line timing the bridge should use. Zero
// fields keep the bridge's power-on value; set fields are quantized to the
// device's 4-bit step table. Long lines with many slaves typically need a
// longer reset pulse and a stronger pull-up than the defaults.
type PortConfig struct {
	ResetLow                time.Duration
	ResetLowOverdrive       time.Duration
	PresenceSample          time.Duration
	PresenceSampleOverdrive time.Duration
	WriteZeroLow            time.Duration
	WriteZeroLowOverdrive   time.Duration
	WriteZeroRecovery       time.Duration
	WeakPullup              int // ohms
}

type portParam struct {
	param     byte
	overdrive bool
	value     byte
}

func (c PortConfig) parameters() []portParam {
	var out []portParam
	add := func(param byte, overdrive bool, d, base, step time.Duration) {
		if d == 0 {
			return
		}
		out = append(out, portParam{param: param, overdrive: overdrive, value: quantize(d, base, step)})
	}
	add(paramResetLow, false, c.ResetLow, 440*time.Microsecond, 20*time.Microsecond)
	add(paramResetLow, true, c.ResetLowOverdrive, 44*time.Microsecond, 2*time.Microsecond)
	add(paramPresenceSample, false, c.PresenceSample, 58*time.Microsecond, 2*time.Microsecond)
	add(paramPresenceSample, true, c.PresenceSampleOverdrive, 5500*time.Nanosecond, 500*time.Nanosecond)
	add(paramWriteZeroLow, false, c.WriteZeroLow, 52*time.Microsecond, 2*time.Microsecond)
	add(paramWriteZeroLow, true, c.WriteZeroLowOverdrive, 5*time.Microsecond, 500*time.Nanosecond)
	add(paramWriteZeroRecovery, false, c.WriteZeroRecovery, 2750*time.Nanosecond, 2500*time.Nanosecond)
	if c.WeakPullup != 0 {
		out = append(out, portParam{param: paramWeakPullup, value: quantizeOhms(c.WeakPullup)})
	}
	return out
}

func quantize(d, base, step time.Duration) byte {
	if d <= base {
		return 0
	}
	v := (d - base + step/2) / step
	if v > 15 {
		v = 15
	}
	return byte(v)
}

func quantizeOhms(ohms int) byte {
	const (
		base = 500
		step = 100
	)
	if ohms <= base {
		return 0
	}
	v := (ohms - base + step/2) / step
	if v > 15 {
		v = 15
	}
	return byte(v)
}
