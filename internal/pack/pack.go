// Package pack implements the on-disk pack format: a concatenation of
// encrypted (and optionally zstd-compressed) blobs, followed by an encrypted
// header describing each blob's id, type, and location, followed by a fixed
// four-byte footer giving the encrypted header's length.
package pack

import (
	"encoding/binary"
	"io"

	"github.com/arkiveio/arkive/internal/compress"
	"github.com/arkiveio/arkive/internal/crypto"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
)

// HeaderLengthSize is the size in bytes of the footer that records the
// encrypted header's length.
const HeaderLengthSize = 4

// entryFixedSize is the per-blob encoding size within the (plaintext)
// header, before encryption: type(1) + id(32) + offset(4) + length(4) +
// uncompressedLength(4).
const entryFixedSize = 1 + model.IDSize + 4 + 4 + 4

// Blob describes one blob's location within a pack, as recovered by List.
type Blob struct {
	model.BlobHandle
	Offset             uint
	Length             uint
	UncompressedLength uint
}

// Packer accumulates blobs into a single pack file, encrypting (and
// optionally compressing) each as it is added, and writing a signed header
// once Finalize is called.
type Packer struct {
	key     *crypto.Key
	wr      io.Writer
	offset  uint
	entries []Blob
}

// NewPacker returns a Packer that writes to wr, encrypting with key.
func NewPacker(key *crypto.Key, wr io.Writer) *Packer {
	return &Packer{key: key, wr: wr}
}

// Add writes one blob's encrypted (optionally compressed) bytes to the
// pack. If uncompressedLength is 0, data is stored without compression and
// the recovered PackedBlob will report UncompressedLength 0. It returns the
// number of bytes written to the underlying writer.
func (p *Packer) Add(t model.BlobType, id model.ID, data []byte, uncompressedLength int) (int, error) {
	body := data
	uncompressed := uint(0)
	if uncompressedLength > 0 {
		body = compress.Compress(data)
		uncompressed = uint(uncompressedLength)
	}

	ciphertext, err := p.key.Encrypt(nil, body)
	if err != nil {
		return 0, errors.Wrap(err, "encrypt blob")
	}

	n, err := p.wr.Write(ciphertext)
	if err != nil {
		return n, errors.Wrap(err, "write blob")
	}

	p.entries = append(p.entries, Blob{
		BlobHandle:         model.BlobHandle{ID: id, Type: t},
		Offset:             p.offset,
		Length:             uint(len(ciphertext)),
		UncompressedLength: uncompressed,
	})
	p.offset += uint(len(ciphertext))
	return n, nil
}

// AddRaw appends an already-encrypted (and, if uncompressedLength is
// non-zero, already-compressed) blob directly to the pack, without
// encrypting or compressing it again. Used by prune's fast repack path to
// move ciphertext between packs untouched.
func (p *Packer) AddRaw(t model.BlobType, id model.ID, ciphertext []byte, uncompressedLength uint) (int, error) {
	n, err := p.wr.Write(ciphertext)
	if err != nil {
		return n, errors.Wrap(err, "write blob")
	}

	p.entries = append(p.entries, Blob{
		BlobHandle:         model.BlobHandle{ID: id, Type: t},
		Offset:             p.offset,
		Length:             uint(len(ciphertext)),
		UncompressedLength: uncompressedLength,
	})
	p.offset += uint(len(ciphertext))
	return n, nil
}

// Finalize writes the encrypted header and footer, completing the pack.
func (p *Packer) Finalize() error {
	header := encodeHeader(p.entries)

	encHeader, err := p.key.Encrypt(nil, header)
	if err != nil {
		return errors.Wrap(err, "encrypt header")
	}

	n, err := p.wr.Write(encHeader)
	if err != nil {
		return errors.Wrap(err, "write header")
	}
	p.offset += uint(n)

	var footer [HeaderLengthSize]byte
	binary.LittleEndian.PutUint32(footer[:], uint32(len(encHeader)))
	if _, err := p.wr.Write(footer[:]); err != nil {
		return errors.Wrap(err, "write footer")
	}
	p.offset += HeaderLengthSize

	return nil
}

// Size returns the total number of bytes written so far, including the
// header and footer once Finalize has run.
func (p *Packer) Size() uint {
	return p.offset
}

// Entries returns the blobs added to the packer so far.
func (p *Packer) Entries() []Blob {
	return p.entries
}

// Count returns the number of blobs added so far.
func (p *Packer) Count() int {
	return len(p.entries)
}

func encodeHeader(entries []Blob) []byte {
	buf := make([]byte, 0, len(entries)*entryFixedSize)
	for _, e := range entries {
		var rec [entryFixedSize]byte
		rec[0] = byte(e.Type)
		copy(rec[1:1+model.IDSize], e.ID[:])
		binary.LittleEndian.PutUint32(rec[1+model.IDSize:], uint32(e.Offset))
		binary.LittleEndian.PutUint32(rec[1+model.IDSize+4:], uint32(e.Length))
		binary.LittleEndian.PutUint32(rec[1+model.IDSize+8:], uint32(e.UncompressedLength))
		buf = append(buf, rec[:]...)
	}
	return buf
}

func decodeHeader(data []byte) ([]Blob, error) {
	if len(data)%entryFixedSize != 0 {
		return nil, errors.Errorf("invalid header size %d", len(data))
	}
	count := len(data) / entryFixedSize
	entries := make([]Blob, 0, count)
	for i := 0; i < count; i++ {
		rec := data[i*entryFixedSize : (i+1)*entryFixedSize]
		var e Blob
		e.Type = model.BlobType(rec[0])
		copy(e.ID[:], rec[1:1+model.IDSize])
		e.Offset = uint(binary.LittleEndian.Uint32(rec[1+model.IDSize:]))
		e.Length = uint(binary.LittleEndian.Uint32(rec[1+model.IDSize+4:]))
		e.UncompressedLength = uint(binary.LittleEndian.Uint32(rec[1+model.IDSize+8:]))
		entries = append(entries, e)
	}
	return entries, nil
}

// CalculateHeaderSize returns the on-disk size (including AEAD extension and
// the trailing footer) that a header describing entries will occupy, without
// needing to actually encrypt anything. Used to cross-check a pack's size
// against its index entry.
func CalculateHeaderSize(entries []Blob) int {
	return len(entries)*entryFixedSize + crypto.Extension + HeaderLengthSize
}

// List reads the footer and header of the pack available via rd (whose total
// size is packSize) and returns the blobs it contains plus the on-disk
// header size (including footer).
func List(key *crypto.Key, rd io.ReaderAt, packSize int64) ([]Blob, uint32, error) {
	if packSize < HeaderLengthSize {
		return nil, 0, errors.New("pack file too small")
	}

	var footer [HeaderLengthSize]byte
	if _, err := rd.ReadAt(footer[:], packSize-HeaderLengthSize); err != nil {
		return nil, 0, errors.Wrap(err, "read footer")
	}
	encHeaderLen := binary.LittleEndian.Uint32(footer[:])

	headerStart := packSize - HeaderLengthSize - int64(encHeaderLen)
	if headerStart < 0 {
		return nil, 0, errors.New("invalid header length in footer")
	}

	encHeader := make([]byte, encHeaderLen)
	if _, err := rd.ReadAt(encHeader, headerStart); err != nil {
		return nil, 0, errors.Wrap(err, "read header")
	}

	plainLen := int(encHeaderLen) - crypto.Extension
	if plainLen < 0 {
		return nil, 0, errors.New("invalid encrypted header length")
	}
	header := make([]byte, plainLen)
	if _, err := key.Decrypt(header, encHeader); err != nil {
		return nil, 0, errors.Wrap(err, "decrypt header")
	}

	entries, err := decodeHeader(header)
	if err != nil {
		return nil, 0, err
	}

	return entries, encHeaderLen + HeaderLengthSize, nil
}

// ReadBlob reads and decrypts the blob described by b from rd.
func ReadBlob(key *crypto.Key, rd io.ReaderAt, b Blob) ([]byte, error) {
	ciphertext := make([]byte, b.Length)
	if _, err := rd.ReadAt(ciphertext, int64(b.Offset)); err != nil {
		return nil, errors.Wrap(err, "read blob")
	}
	return DecryptBlob(key, ciphertext, b.UncompressedLength)
}

// DecryptBlob decrypts ciphertext and, if uncompressedLength is non-zero,
// decompresses the result to that length.
func DecryptBlob(key *crypto.Key, ciphertext []byte, uncompressedLength uint) ([]byte, error) {
	plainLen := len(ciphertext) - crypto.Extension
	if plainLen < 0 {
		return nil, errors.New("ciphertext too small")
	}
	plaintext := make([]byte, plainLen)
	if _, err := key.Decrypt(plaintext, ciphertext); err != nil {
		return nil, errors.Wrap(err, "decrypt blob")
	}
	if uncompressedLength == 0 {
		return plaintext, nil
	}
	return compress.Decompress(plaintext, int(uncompressedLength))
}
