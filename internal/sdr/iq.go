package sdr

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// BytesPerSample is the on-disk size of one complex sample: interleaved
// little-endian float32 I then Q, no header.
const BytesPerSample = 8

// EncodeIQ appends samples to dst in the raw fc32 layout.
func EncodeIQ(dst []byte, samples []complex64) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(real(s)))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(imag(s)))
	}
	return dst
}

// DecodeIQ converts a raw fc32 buffer into samples.
func DecodeIQ(buf []byte) ([]complex64, error) {
	if len(buf)%BytesPerSample != 0 {
		return nil, errors.New("DecodeIQ: buffer length not multiple of 8")
	}
	out := make([]complex64, len(buf)/BytesPerSample)
	for n := range out {
		off := n * BytesPerSample
		i := math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		q := math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		out[n] = complex(i, q)
	}
	return out, nil
}

// IQWriter is a buffered, append-only fc32 sample writer.
type IQWriter struct {
	f       *os.File
	w       *bufio.Writer
	scratch []byte
	written int64
}

// CreateIQ truncates or creates path for writing.
func CreateIQ(path string) (*IQWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &IQWriter{f: f, w: bufio.NewWriterSize(f, 1<<20)}, nil
}

// Write appends samples.
func (w *IQWriter) Write(samples []complex64) error {
	w.scratch = EncodeIQ(w.scratch[:0], samples)
	if _, err := w.w.Write(w.scratch); err != nil {
		return err
	}
	w.written += int64(len(samples))
	return nil
}

// Samples returns the number of samples written so far.
func (w *IQWriter) Samples() int64 { return w.written }

// Close flushes buffered data and closes the file.
func (w *IQWriter) Close() error {
	flushErr := w.w.Flush()
	closeErr := w.f.Close()
	return errors.Join(flushErr, closeErr)
}

// ReadIQFile loads at most maxSamples samples from path (0 means all).
// A trailing partial sample is ignored.
func ReadIQFile(path string, maxSamples int) ([]complex64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	n := int(info.Size() / BytesPerSample)
	if maxSamples > 0 && maxSamples < n {
		n = maxSamples
	}
	buf := make([]byte, n*BytesPerSample)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return DecodeIQ(buf)
}
