package stream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/sensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/thermo/gated"
	"github.com/mklimuk/thermo/wire"
)

func TestCPUProducer_IndexedEntries(t *testing.T) {
	producer := &CPUProducer{
		Cadence: time.Millisecond,
		Read: func(context.Context) ([]sensors.TemperatureStat, error) {
			return []sensors.TemperatureStat{
				{SensorKey: "cpu_thermal", Temperature: 48.3},
				{SensorKey: "gpu_thermal", Temperature: 41.0},
			}, nil
		},
	}
	sender, receiver := gated.New[wire.Measurement]()
	receiver.SetReady(true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		producer.Run(ctx, sender)
	}()
	defer func() { cancel(); <-done }()

	batch, err := receiver.Recv(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, wire.Temperature, batch.Kind)
	require.Len(t, batch.Entries, 2)
	assert.Equal(t, uint32(0), batch.Entries[0].ID)
	assert.InDelta(t, 48.3, batch.Entries[0].Value, 0.0001)
	assert.Equal(t, uint32(1), batch.Entries[1].ID)
	assert.InDelta(t, 41.0, batch.Entries[1].Value, 0.0001)
}

func TestCPUProducer_BatchTruncated(t *testing.T) {
	stats := make([]sensors.TemperatureStat, cpuMaxComponents+5)
	for i := range stats {
		stats[i] = sensors.TemperatureStat{SensorKey: fmt.Sprintf("zone%d", i), Temperature: float64(30 + i)}
	}
	producer := &CPUProducer{Read: func(context.Context) ([]sensors.TemperatureStat, error) { return stats, nil }}

	batch, err := producer.batch(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch.Entries, cpuMaxComponents)
}
