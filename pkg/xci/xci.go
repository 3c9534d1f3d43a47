// Package xci parses the gamecard container: a 0x200-byte header
// naming the root HFS0 partition, which in turn names the
// update/normal/secure partitions by name (spec 3 "HFS0/XCI", spec
// 4.7.4).
package xci

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/falk/hactool-go/pkg/herr"
	"github.com/falk/hactool-go/pkg/pfs0"
)

const Magic = "HEAD"

const (
	PartitionRoot = "root"
	PartitionUpdate = "update"
	PartitionNormal = "normal"
	PartitionSecure = "secure"
)

// Header is the minimal gamecard header this tool needs: where the
// root HFS0 partition lives.
type Header struct {
	RootPartitionOffset int64
	RootPartitionSize   int64
}

// ParseHeader reads the 0x200-byte XCI header at the start of r.
func ParseHeader(r io.ReaderAt) (*Header, error) {
	buf := make([]byte, 0x200)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, herr.New(herr.KindIO, "xci.ParseHeader", err)
	}
	if string(buf[0x100:0x104]) != Magic {
		return nil, herr.New(herr.KindMagicMismatch, "xci.ParseHeader", fmt.Errorf("expected magic %q, got %q", Magic, buf[0x100:0x104]))
	}
	return &Header{
		RootPartitionOffset: int64(binary.LittleEndian.Uint64(buf[0x130:0x138])),
		RootPartitionSize:   int64(binary.LittleEndian.Uint64(buf[0x138:0x140])),
	}, nil
}

// offsetReader adapts an absolute-offset io.ReaderAt to one relative
// to a partition's own start, the way each HFS0 walker expects.
type offsetReader struct {
	r      io.ReaderAt
	base   int64
}

func (o offsetReader) ReadAt(p []byte, off int64) (int, error) {
	return o.r.ReadAt(p, o.base+off)
}

// RootPartition parses the root HFS0 table.
func RootPartition(r io.ReaderAt, h *Header) (*pfs0.Table, error) {
	return pfs0.Parse(offsetReader{r: r, base: h.RootPartitionOffset}, true)
}

// SubPartition locates update/normal/secure by name within the root
// HFS0 and parses its own HFS0 table (spec 4.7.4: "locating each by
// name within the root").
func SubPartition(r io.ReaderAt, h *Header, root *pfs0.Table, name string) (*pfs0.Table, int64, error) {
	for _, f := range root.Files {
		if f.Name != name {
			continue
		}
		abs := h.RootPartitionOffset + root.HeaderSize + f.Offset
		t, err := pfs0.Parse(offsetReader{r: r, base: abs}, true)
		return t, abs, err
	}
	return nil, 0, herr.New(herr.KindLayoutInvalid, "xci.SubPartition", fmt.Errorf("root HFS0 has no partition named %q", name))
}
