package safetensors

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"slices"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/samcharles93/starvec/internal/precision"
)

// Tensor is one entry to be written by Write.
type Tensor struct {
	Name  string
	DType precision.Precision
	Shape []int
	Data  []byte
}

// Write serializes tensors in name order. The header is padded with spaces
// to an 8-byte boundary.
func Write(w io.Writer, tensors []Tensor, metadata map[string]string) error {
	sorted := slices.Clone(tensors)
	slices.SortFunc(sorted, func(a, b Tensor) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})

	header := make(map[string]any, len(sorted)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var off int64
	for _, t := range sorted {
		n, err := numElements(t.Shape)
		if err != nil {
			return errors.Wrapf(err, "tensor %s", t.Name)
		}
		if len(t.Data) != n*t.DType.Size() {
			return errors.Errorf("tensor %s: %d bytes for %d %s elements", t.Name, len(t.Data), n, t.DType)
		}
		if _, dup := header[t.Name]; dup {
			return errors.Errorf("duplicate tensor %s", t.Name)
		}
		header[t.Name] = tensorHeader{
			DType:       t.DType.Safetensors(),
			Shape:       t.Shape,
			DataOffsets: []int64{off, off + int64(len(t.Data))},
		}
		off += int64(len(t.Data))
	}

	hb, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "marshal header")
	}
	for len(hb)%8 != 0 {
		hb = append(hb, ' ')
	}

	bw := bufio.NewWriter(w)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hb)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	for _, t := range sorted {
		if _, err := bw.Write(t.Data); err != nil {
			return errors.Wrapf(err, "write tensor %s", t.Name)
		}
	}
	return bw.Flush()
}

// WriteFile writes tensors to path, replacing any existing file.
func WriteFile(path string, tensors []Tensor, metadata map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, tensors, metadata); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
