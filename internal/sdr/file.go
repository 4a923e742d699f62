package sdr

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FileRadio replays a recorded fc32 capture as its receive stream and writes
// transmitted bursts to an fc32 file. Device arguments are comma separated
// key=value pairs: rx=<path>, tx=<path>, loop=<bool> (default true).
type FileRadio struct {
	mu      sync.Mutex
	rxPath  string
	txPath  string
	loop    bool
	rx      *os.File
	rxBuf   *bufio.Reader
	raw     []byte
	tx      *IQWriter
	txCount int
}

func NewFileRadio() *FileRadio { return &FileRadio{loop: true} }

func (f *FileRadio) Init(_ context.Context, cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, kv := range strings.Split(cfg.DeviceArgs, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("file radio: malformed argument %q", kv)
		}
		switch strings.TrimSpace(key) {
		case "rx":
			f.rxPath = strings.TrimSpace(value)
		case "tx":
			f.txPath = strings.TrimSpace(value)
		case "loop":
			b, err := strconv.ParseBool(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("file radio: loop: %w", err)
			}
			f.loop = b
		default:
			return fmt.Errorf("file radio: unknown argument %q", key)
		}
	}
	if f.rxPath == "" && f.txPath == "" {
		return errors.New("file radio: need rx=<path> and/or tx=<path>")
	}
	return nil
}

func (f *FileRadio) StartRX(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rxPath == "" {
		return errors.New("file radio: no rx file configured")
	}
	file, err := os.Open(f.rxPath)
	if err != nil {
		return fmt.Errorf("file radio: %w", err)
	}
	f.rx = file
	f.rxBuf = bufio.NewReaderSize(file, 1<<20)
	return nil
}

// Receive reads up to len(buf) samples. At end of file it rewinds when
// looping, otherwise it reports io.EOF with a zero count.
func (f *FileRadio) Receive(buf []complex64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rx == nil {
		return 0, errors.New("file radio: rx not started")
	}
	need := len(buf) * BytesPerSample
	if cap(f.raw) < need {
		f.raw = make([]byte, need)
	}
	raw := f.raw[:need]
	n, err := io.ReadFull(f.rxBuf, raw)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if f.loop {
			if _, serr := f.rx.Seek(0, io.SeekStart); serr != nil {
				return 0, serr
			}
			f.rxBuf.Reset(f.rx)
		}
		err = io.EOF
	}
	samples, derr := DecodeIQ(raw[:n-n%BytesPerSample])
	if derr != nil {
		return 0, derr
	}
	copy(buf, samples)
	if len(samples) > 0 {
		return len(samples), nil
	}
	return 0, err
}

func (f *FileRadio) StopRX() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rx == nil {
		return nil
	}
	err := f.rx.Close()
	f.rx, f.rxBuf = nil, nil
	return err
}

func (f *FileRadio) StartTX(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.txPath == "" {
		return errors.New("file radio: no tx file configured")
	}
	w, err := CreateIQ(f.txPath)
	if err != nil {
		return fmt.Errorf("file radio: %w", err)
	}
	f.tx = w
	f.txCount = 0
	return nil
}

func (f *FileRadio) Transmit(buf []complex64, _, _ bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tx == nil {
		return 0, errors.New("file radio: tx not started")
	}
	if err := f.tx.Write(buf); err != nil {
		return 0, err
	}
	f.txCount++
	return len(buf), nil
}

func (f *FileRadio) StopTX() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tx == nil {
		return nil
	}
	err := f.tx.Close()
	f.tx = nil
	return err
}

func (f *FileRadio) Close() error {
	return errors.Join(f.StopRX(), f.StopTX())
}
