package sensors

import (
	"context"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/activity_tracker/internal/activity"
	"github.com/relabs-tech/activity_tracker/internal/features"
	"github.com/relabs-tech/activity_tracker/internal/imu"
	"github.com/relabs-tech/activity_tracker/internal/window"
)

func TestParseLine(t *testing.T) {
	s, err := parseLine("0.1, -0.2,9.8,0,0.5 ,-1e-3")
	require.NoError(t, err)
	assert.Equal(t, imu.Sample{Ax: 0.1, Ay: -0.2, Az: 9.8, Gx: 0, Gy: 0.5, Gz: -1e-3}, s)

	for _, bad := range []string{"1,2,3", "1,2,3,4,5,x", "1,2,3,4,5,NaN", "1,2,3,4,5,6,7"} {
		_, err := parseLine(bad)
		assert.Error(t, err, bad)
	}
}

func collect(out chan Reading) []Reading {
	var got []Reading
	for {
		select {
		case r := <-out:
			got = append(got, r)
		default:
			return got
		}
	}
}

func TestSerialSource_Scan(t *testing.T) {
	src, err := NewSerialSource("/dev/ttyUSB0", 115200)
	require.NoError(t, err)

	input := "# header\n1,2,3,4,5,6\n\ngarbage\n7,8,9,10,11,12\n"
	out := make(chan Reading, 16)

	require.NoError(t, src.scan(context.Background(), strings.NewReader(input), out))

	got := collect(out)
	require.Len(t, got, 4)
	assert.Equal(t, Accel, got[0].Channel)
	assert.Equal(t, imu.Vec3{X: 1, Y: 2, Z: 3}, got[0].Vec)
	assert.Equal(t, Gyro, got[1].Channel)
	assert.Equal(t, imu.Vec3{X: 4, Y: 5, Z: 6}, got[1].Vec)
	assert.Equal(t, imu.Vec3{X: 10, Y: 11, Z: 12}, got[3].Vec)
}

func TestSerialSource_TooManyParseErrors(t *testing.T) {
	src, err := NewSerialSource("/dev/ttyUSB0", 9600)
	require.NoError(t, err)

	input := strings.Repeat("nope\n", ParseErrorsThreshold)
	err = src.scan(context.Background(), strings.NewReader(input), make(chan Reading, 1))
	assert.ErrorIs(t, err, ErrTooManyParseErrors)
}

type pipePort struct {
	io.Reader
	closed chan struct{}
}

func (p *pipePort) Write(b []byte) (int, error) { return len(b), nil }
func (p *pipePort) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

func TestSerialSource_StreamClosesPort(t *testing.T) {
	src, err := NewSerialSource("/dev/ttyUSB0", 9600)
	require.NoError(t, err)

	port := &pipePort{Reader: strings.NewReader("1,2,3,4,5,6\n"), closed: make(chan struct{})}
	src.open = func(serial.OpenOptions) (io.ReadWriteCloser, error) { return port, nil }

	out := make(chan Reading, 4)
	require.NoError(t, src.Stream(context.Background(), out))

	assert.Len(t, collect(out), 2)
	select {
	case <-port.closed:
	default:
		t.Fatal("port not closed")
	}
}

func TestNewSerialSource_Invalid(t *testing.T) {
	_, err := NewSerialSource("", 9600)
	assert.Error(t, err)
	_, err = NewSerialSource("/dev/ttyUSB0", 0)
	assert.Error(t, err)
}

func TestDecodeIMURaw(t *testing.T) {
	s, err := decodeIMURaw([]byte(`{"source":"left","ax":0,"ay":0,"az":16384,"gx":131,"gy":0,"gz":0}`), imu.Ranges{})
	require.NoError(t, err)
	assert.InDelta(t, imu.StandardGravity, s.Az, 1e-9)
	assert.InDelta(t, math.Pi/180, s.Gx, 1e-12)

	_, err = decodeIMURaw([]byte(`{"ax":`), imu.Ranges{})
	assert.Error(t, err)
}

func TestNewMQTTSource_Invalid(t *testing.T) {
	client := mqtt.NewClient(mqtt.NewClientOptions())

	_, err := NewMQTTSource(client, "", imu.Ranges{})
	assert.Error(t, err)
	_, err = NewMQTTSource(client, "inertial/imu/left", imu.Ranges{Accel: 5})
	assert.Error(t, err)

	src, err := NewMQTTSource(client, "inertial/imu/left", imu.Ranges{Accel: 1, Gyro: 2})
	require.NoError(t, err)
	assert.Equal(t, "mqtt", src.Name())
}

func TestMockSource_Gaits(t *testing.T) {
	src, err := NewMockSource(10*time.Millisecond, activity.Walking)
	require.NoError(t, err)

	record := func() []imu.Sample {
		out := make([]imu.Sample, 100)
		for i := range out {
			out[i] = src.At(time.Duration(i) * 10 * time.Millisecond)
		}
		return out
	}

	walking, err := features.Extract(record())
	require.NoError(t, err)

	require.NoError(t, src.SetMode(activity.Running))
	assert.Equal(t, activity.Running, src.Mode())
	running, err := features.Extract(record())
	require.NoError(t, err)

	// accel magnitude mean and spread grow with the running gait
	assert.Greater(t, running[12], walking[12])
	assert.Greater(t, running[13], walking[13])

	assert.Error(t, src.SetMode(activity.Idle))
	_, err = NewMockSource(0, activity.Walking)
	assert.Error(t, err)
}

func TestMockSource_Stream(t *testing.T) {
	src, err := NewMockSource(time.Millisecond, activity.Running)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Reading)
	done := make(chan error, 1)
	go func() { done <- src.Stream(ctx, out) }()

	first := <-out
	second := <-out
	assert.Equal(t, Accel, first.Channel)
	assert.Equal(t, Gyro, second.Channel)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stream did not stop")
	}
}

type fakeReader struct {
	raws []imu.IMURaw
	err  error
}

func (f *fakeReader) ReadRaw() (imu.IMURaw, error) {
	if f.err != nil {
		return imu.IMURaw{}, f.err
	}
	r := f.raws[0]
	if len(f.raws) > 1 {
		f.raws = f.raws[1:]
	}
	return r, nil
}

func TestPolledSource_Stream(t *testing.T) {
	src, err := newPolledSource(&fakeReader{raws: []imu.IMURaw{{Ax: 2048}}}, imu.Ranges{Accel: 3}, time.Millisecond, buildOptions("test", nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Reading)
	go src.Stream(ctx, out)

	r := <-out
	assert.Equal(t, Accel, r.Channel)
	assert.InDelta(t, imu.StandardGravity, r.Vec.X, 1e-9)
}

func TestPolledSource_GivesUp(t *testing.T) {
	src, err := newPolledSource(&fakeReader{err: io.ErrUnexpectedEOF}, imu.Ranges{}, time.Millisecond, buildOptions("test", nil))
	require.NoError(t, err)

	err = src.Stream(context.Background(), make(chan Reading))
	assert.ErrorIs(t, err, ErrTooManyParseErrors)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestPoller_CombinesLatest(t *testing.T) {
	buf := window.New(4)
	p, err := NewPoller(buf, time.Second)
	require.NoError(t, err)

	assert.False(t, p.Poll(), "no readings yet")

	p.Offer(Reading{Channel: Accel, Vec: imu.Vec3{X: 1}})
	assert.False(t, p.Poll(), "gyro missing")

	p.Offer(Reading{Channel: Gyro, Vec: imu.Vec3{Z: 2}})
	p.Offer(Reading{Channel: Accel, Vec: imu.Vec3{X: 3}})
	require.True(t, p.Poll())
	require.True(t, p.Poll())

	assert.Equal(t, []imu.Sample{{Ax: 3, Gz: 2}, {Ax: 3, Gz: 2}}, buf.Snapshot())

	p.Offer(Reading{Channel: Gyro, Vec: imu.Vec3{X: math.Inf(1)}})
	assert.False(t, p.Poll())
	pushed, dropped := p.Stats()
	assert.Equal(t, uint64(2), pushed)
	assert.Equal(t, uint64(1), dropped)

	p.Reset()
	_, ok := p.Current()
	assert.False(t, ok)
	assert.Zero(t, buf.Len())
}

func TestPoller_Run(t *testing.T) {
	buf := window.New(10)
	p, err := NewPoller(buf, time.Millisecond)
	require.NoError(t, err)

	readings := make(chan Reading, 2)
	readings <- Reading{Channel: Accel, Vec: imu.Vec3{X: 1}}
	readings <- Reading{Channel: Gyro, Vec: imu.Vec3{Y: 1}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, readings) }()

	assert.Eventually(t, buf.IsFull, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestNewPoller_Invalid(t *testing.T) {
	_, err := NewPoller(nil, time.Second)
	assert.Error(t, err)
	_, err = NewPoller(window.New(1), 0)
	assert.Error(t, err)
}

func TestMPU9250Constructors_RejectRangesBeforeOpening(t *testing.T) {
	_, err := NewMPU9250Source("/dev/spidev0.0", "8", imu.Ranges{Accel: 4}, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mpu9250")

	_, err = NewIMURawReader("/dev/spidev0.0", "8", imu.Ranges{Gyro: 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mpu9250")
}
