package pack_test

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/arkiveio/arkive/internal/compress"
	"github.com/arkiveio/arkive/internal/crypto"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/pack"
)

var testLens = []int{23, 31650, 25860, 10928, 13769, 19862, 5211, 127, 13690, 30231}

type buf struct {
	data []byte
	id   model.ID
}

func newPack(t testing.TB, k *crypto.Key, lengths []int) ([]buf, []byte, uint) {
	var bufs []buf
	for _, l := range lengths {
		b := make([]byte, l)
		if _, err := io.ReadFull(rand.Reader, b); err != nil {
			t.Fatal(err)
		}
		bufs = append(bufs, buf{data: b, id: model.Hash(b)})
	}

	var out bytes.Buffer
	p := pack.NewPacker(k, &out)
	for _, b := range bufs {
		if _, err := p.Add(model.TreeBlob, b.id, b.data, len(b.data)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Finalize(); err != nil {
		t.Fatal(err)
	}

	return bufs, out.Bytes(), p.Size()
}

func verifyBlobs(t *testing.T, bufs []buf, k *crypto.Key, rd io.ReaderAt, packSize uint) {
	written := 0
	for _, b := range bufs {
		written += len(compress.Compress(b.data)) + crypto.Extension
	}

	entries, hdrSize, err := pack.List(k, rd, int64(packSize))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(bufs) {
		t.Fatalf("got %d entries, want %d", len(entries), len(bufs))
	}

	headerSize := pack.CalculateHeaderSize(entries)
	written += headerSize
	if uint(written) != packSize {
		t.Fatalf("computed size %d != actual pack size %d", written, packSize)
	}
	if headerSize != int(hdrSize) {
		t.Fatalf("CalculateHeaderSize %d != List-reported size %d", headerSize, hdrSize)
	}

	for i, b := range bufs {
		e := entries[i]
		if e.ID != b.id {
			t.Fatalf("entry %d id mismatch", i)
		}
		got, err := pack.ReadBlob(k, rd, e)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, b.data) {
			t.Fatalf("blob %d data mismatch", i)
		}
	}
}

func TestCreatePack(t *testing.T) {
	k := crypto.NewRandomKey()
	bufs, data, size := newPack(t, k, testLens)
	if uint(len(data)) != size {
		t.Fatalf("reported size %d != actual %d", size, len(data))
	}
	verifyBlobs(t, bufs, k, bytes.NewReader(data), size)
}

func TestShortPack(t *testing.T) {
	k := crypto.NewRandomKey()
	bufs, data, size := newPack(t, k, []int{23})
	verifyBlobs(t, bufs, k, bytes.NewReader(data), size)
}

func TestBlobTypeString(t *testing.T) {
	if model.DataBlob.String() != "data" {
		t.Fatalf("unexpected data blob string %q", model.DataBlob.String())
	}
	if model.TreeBlob.String() != "tree" {
		t.Fatalf("unexpected tree blob string %q", model.TreeBlob.String())
	}
}
