package deframe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"reflect"
	"testing"
	"time"
)

// chunkSource serves data in chunks whose sizes come from next, then io.EOF.
type chunkSource struct {
	data []byte
	next func() int
}

func (c *chunkSource) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := len(p)
	if c.next != nil {
		if want := c.next(); want < n {
			n = want
		}
	}
	n = copy(p[:n], c.data)
	c.data = c.data[n:]
	return n, nil
}

func fixed(n int) func() int {
	return func() int { return n }
}

func runEngine(t *testing.T, cfg Config, src Source) *recorder {
	t.Helper()
	rec := &recorder{}
	e := NewEngine(cfg, rec.emit)
	if err := e.Run(context.Background(), src); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	return rec
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IdleBackoff = 0
	cfg.ReadSize = 64
	return cfg
}

func TestEngineBinaryExample(t *testing.T) {
	src := &chunkSource{data: append([]byte("IMG:4\n"), 0x01, 0x02, 0x03, 0x04)}
	rec := runEngine(t, testConfig(), src)

	want := []Event{{Frame: &Frame{Kind: KindBinary, Seq: 1, Bytes: []byte{1, 2, 3, 4}}}}
	if !reflect.DeepEqual(rec.events, want) {
		t.Errorf("events = %+v, want %+v", rec.events, want)
	}
}

func TestEngineTextExample(t *testing.T) {
	src := &chunkSource{data: []byte("P1\n11 00\n00 11\nP1\n22 22\n")}
	rec := runEngine(t, testConfig(), src)

	want := []*Frame{
		{Kind: KindText, Seq: 1, Lines: []string{"11 00", "00 11"}},
		{Kind: KindText, Seq: 2, Lines: []string{"22 22"}, Partial: true},
	}
	if got := rec.frames(); !reflect.DeepEqual(got, want) {
		t.Errorf("frames = %+v, want %+v", got, want)
	}
	if len(rec.errs()) != 0 {
		t.Errorf("unexpected errors: %v", rec.errs())
	}
}

func TestEngineMalformedThenValid(t *testing.T) {
	src := &chunkSource{data: []byte("IMG:abc\nIMG:2\nhi")}
	rec := runEngine(t, testConfig(), src)

	if len(rec.events) != 2 {
		t.Fatalf("events = %+v, want 2", rec.events)
	}
	if !errors.Is(rec.events[0].Err, ErrMalformedHeader) {
		t.Errorf("first event = %+v, want malformed header", rec.events[0])
	}
	want := &Frame{Kind: KindBinary, Seq: 1, Bytes: []byte("hi")}
	if !reflect.DeepEqual(rec.events[1].Frame, want) {
		t.Errorf("second event = %+v, want %+v", rec.events[1].Frame, want)
	}
}

func TestEngineIncompleteFrame(t *testing.T) {
	for _, size := range []int{1, 3, 64} {
		src := &chunkSource{data: []byte("IMG:10\n\x00\x01\n\x03"), next: fixed(size)}
		rec := runEngine(t, testConfig(), src)

		want := []Event{{Err: &IncompleteFrameError{Received: 4, Declared: 10, Reason: ReasonClosed}}}
		if !reflect.DeepEqual(rec.events, want) {
			t.Errorf("chunk %d: events = %+v, want %+v", size, rec.events, want)
		}
	}
}

func TestEngineDeviceErrorsAndNoise(t *testing.T) {
	src := &chunkSource{data: []byte("boot ok\nERROR: no camera\n\nIMG:1\nZ")}
	rec := runEngine(t, testConfig(), src)

	want := []Event{
		{Err: &DeviceError{Message: "ERROR: no camera"}},
		{Frame: &Frame{Kind: KindBinary, Seq: 1, Bytes: []byte("Z")}},
	}
	if !reflect.DeepEqual(rec.events, want) {
		t.Errorf("events = %+v, want %+v", rec.events, want)
	}
}

func TestEngineUnterminatedTail(t *testing.T) {
	src := &chunkSource{data: []byte("P1\n2 2\n01")}
	rec := runEngine(t, testConfig(), src)

	want := []*Frame{{Kind: KindText, Seq: 1, Lines: []string{"2 2", "01"}, Partial: true}}
	if got := rec.frames(); !reflect.DeepEqual(got, want) {
		t.Errorf("frames = %+v, want %+v", got, want)
	}
}

func mixedStream() []byte {
	var b bytes.Buffer
	b.WriteString("startup\r\nP1\r\n4 2\r\n1010\r\n0101\r\n")
	b.WriteString("IMG:7\r\n")
	b.Write([]byte{0xff, '\n', 'P', '1', '\n', 0x00, '\r'})
	b.WriteString("IMG:x\nERROR overflow\n")
	b.WriteString("IMG:3\n")
	b.Write([]byte{'I', 'M', 'G'})
	b.WriteString("P1\n1 1\n1\nP1\n")
	b.WriteString("IMG:5\nabc")
	return b.Bytes()
}

func TestEngineChunkingInvariance(t *testing.T) {
	data := mixedStream()
	reference := runEngine(t, testConfig(), &chunkSource{data: append([]byte(nil), data...)})
	if len(reference.events) != 8 {
		t.Fatalf("reference produced %d events: %+v", len(reference.events), reference.events)
	}

	rng := rand.New(rand.NewSource(7))
	sizers := map[string]func() int{
		"one byte": fixed(1),
		"two byte": fixed(2),
		"random":   func() int { return 1 + rng.Intn(9) },
		"large":    fixed(1 << 16),
	}
	for name, next := range sizers {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			cfg.ReadSize = 4096
			got := runEngine(t, cfg, &chunkSource{data: append([]byte(nil), data...), next: next})
			if !reflect.DeepEqual(got.events, reference.events) {
				t.Errorf("events = %+v\nwant %+v", got.events, reference.events)
			}
		})
	}
}

func TestEngineBinaryRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 10, 1000, 70000} {
		payload := make([]byte, n)
		rng.Read(payload)
		data := append([]byte("IMG:"), []byte(itoa(n))...)
		data = append(data, '\n')
		data = append(data, payload...)

		cfg := testConfig()
		cfg.ReadSize = 512
		rec := runEngine(t, cfg, &chunkSource{data: data, next: func() int { return 1 + rng.Intn(700) }})
		frames := rec.frames()
		if len(frames) != 1 || frames[0].Len() != n || !bytes.Equal(frames[0].Bytes, payload) {
			t.Errorf("n=%d: got %d frames, errors %v", n, len(frames), rec.errs())
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

// stallSource delivers its data, then reports no data until the deadline,
// then io.EOF.
type stallSource struct {
	data  []byte
	until time.Time
}

func (s *stallSource) Read(p []byte) (int, error) {
	if len(s.data) > 0 {
		n := copy(p, s.data)
		s.data = s.data[n:]
		return n, nil
	}
	if time.Now().Before(s.until) {
		return 0, ErrNoData
	}
	return 0, io.EOF
}

func TestEnginePayloadTimeoutRecovers(t *testing.T) {
	cfg := testConfig()
	cfg.PayloadTimeout = 10 * time.Millisecond
	cfg.IdleBackoff = time.Millisecond

	src := &stallSource{data: []byte("IMG:8\nabc"), until: time.Now().Add(60 * time.Millisecond)}
	rec := runEngine(t, cfg, src)

	want := []Event{{Err: &IncompleteFrameError{Received: 3, Declared: 8, Reason: ReasonTimeout}}}
	if !reflect.DeepEqual(rec.events, want) {
		t.Errorf("events = %+v, want %+v", rec.events, want)
	}
}

func TestEngineCancel(t *testing.T) {
	cfg := testConfig()
	cfg.PayloadTimeout = 0
	cfg.IdleBackoff = time.Millisecond

	rec := &recorder{}
	e := NewEngine(cfg, rec.emit)
	src := &stallSource{data: []byte("P1\nrow\nIMG:4\nab"), until: time.Now().Add(time.Hour)}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx, src); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v, want deadline exceeded", err)
	}

	want := []Event{
		{Frame: &Frame{Kind: KindText, Seq: 1, Lines: []string{"row"}, Partial: true}},
		{Err: &IncompleteFrameError{Received: 2, Declared: 4, Reason: ReasonCanceled}},
	}
	if !reflect.DeepEqual(rec.events, want) {
		t.Errorf("events = %+v, want %+v", rec.events, want)
	}
	if e.State() != StateIdle {
		t.Errorf("State() = %v, want idle", e.State())
	}
}

type failingSource struct {
	chunkSource
	err error
}

func (f *failingSource) Read(p []byte) (int, error) {
	n, err := f.chunkSource.Read(p)
	if err == io.EOF {
		return 0, f.err
	}
	return n, err
}

func TestEngineReadError(t *testing.T) {
	linkErr := errors.New("link reset")
	rec := &recorder{}
	e := NewEngine(testConfig(), rec.emit)
	src := &failingSource{chunkSource: chunkSource{data: []byte("IMG:9\n1234")}, err: linkErr}

	if err := e.Run(context.Background(), src); !errors.Is(err, linkErr) {
		t.Fatalf("Run() = %v, want %v", err, linkErr)
	}
	want := []Event{{Err: &IncompleteFrameError{Received: 4, Declared: 9, Reason: ReasonReadError}}}
	if !reflect.DeepEqual(rec.events, want) {
		t.Errorf("events = %+v, want %+v", rec.events, want)
	}
}

func TestEngineStats(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(testConfig(), rec.emit)
	src := &chunkSource{data: []byte("noise\nIMG:q\nP1\nrow\n")}
	if err := e.Run(context.Background(), src); err != nil {
		t.Fatal(err)
	}

	want := Stats{BytesRead: 19, Lines: 4, Frames: 1, Errors: 1, NoiseLines: 1}
	if got := e.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestEngineStatsCountPayloadReads(t *testing.T) {
	data := append([]byte("IMG:600\n"), make([]byte, 600)...)
	cfg := testConfig()
	cfg.ReadSize = 16
	e := NewEngine(cfg, (&recorder{}).emit)
	if err := e.Run(context.Background(), &chunkSource{data: data}); err != nil {
		t.Fatal(err)
	}
	if got := e.Stats(); got.BytesRead != len(data) || got.Frames != 1 {
		t.Errorf("Stats() = %+v, want %d bytes and one frame", got, len(data))
	}
}
