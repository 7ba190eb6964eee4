package environment

import (
	"context"
	"time"
)

// TemperatureBehaviorFunc defines the function signature for temperature behavior.
// It returns the temperature in Celsius or an error.
type TemperatureBehaviorFunc func(ctx context.Context) (float32, error)

// HumidityBehaviorFunc defines the function signature for humidity behavior.
// It returns the relative humidity in %RH or an error.
type HumidityBehaviorFunc func(ctx context.Context) (float32, error)

// MockTemperatureAndHumiditySensor is a mock implementation of a triggered
// temperature and humidity sensor that uses behavior functions to produce
// results without requiring any hardware. It presents the same surface as
// the HDC1010 driver, so producer loops can run against it in tests.
type MockTemperatureAndHumiditySensor struct {
	addr         byte
	tempBehavior TemperatureBehaviorFunc
	humBehavior  HumidityBehaviorFunc
	triggers     []Trigger
}

// NewMockTemperatureAndHumiditySensor creates a new mock sensor with the given
// behavior functions. The temperature behavior backs ReadTemperature, the
// humidity behavior backs ReadHumidity; triggers are recorded and complete
// instantly.
//
// Example usage:
//
//	sensor := NewMockTemperatureAndHumiditySensor(0x40,
//		func(ctx context.Context) (float32, error) { return 22.5, nil },
//		func(ctx context.Context) (float32, error) { return 45.0, nil },
//	)
func NewMockTemperatureAndHumiditySensor(addr byte, tempBehavior TemperatureBehaviorFunc, humBehavior HumidityBehaviorFunc) *MockTemperatureAndHumiditySensor {
	return &MockTemperatureAndHumiditySensor{
		addr:         addr,
		tempBehavior: tempBehavior,
		humBehavior:  humBehavior,
	}
}

// Addr returns the mocked I2C address.
func (m *MockTemperatureAndHumiditySensor) Addr() byte { return m.addr }

// TriggerMeasurement records the trigger and reports a zero conversion wait.
func (m *MockTemperatureAndHumiditySensor) TriggerMeasurement(_ context.Context, kind Trigger) (time.Duration, error) {
	m.triggers = append(m.triggers, kind)
	return 0, nil
}

// Triggers returns the triggers recorded so far.
func (m *MockTemperatureAndHumiditySensor) Triggers() []Trigger { return m.triggers }

// ReadTemperature returns the temperature by calling the temperature behavior function.
func (m *MockTemperatureAndHumiditySensor) ReadTemperature(ctx context.Context) (float32, error) {
	return m.tempBehavior(ctx)
}

// ReadHumidity returns the humidity by calling the humidity behavior function.
func (m *MockTemperatureAndHumiditySensor) ReadHumidity(ctx context.Context) (float32, error) {
	return m.humBehavior(ctx)
}
