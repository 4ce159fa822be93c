package renzip

import (
	"archive/zip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	localHeaderLen    = 30
	dataDescriptorLen = 16
	eocdSignature     = 0x06054b50
	eocdLen           = 22
	maxCommentLen     = 0xffff

	// AlignExtraID is the extra field ID Android's zipalign uses for
	// the zero padding it inserts ahead of stored entry data.
	AlignExtraID = 0xd935

	// SigningBlockMagic ends an APK signing block, immediately before
	// the central directory.
	SigningBlockMagic = "APK Sig Block 42"
)

type EndOfCentralDirectory struct {
	// Offset of the record itself within the container.
	Offset int64

	CentralDirectoryOffset uint32
	CentralDirectorySize   uint32

	// Raw is the full record, comment included.
	Raw []byte
}

// FindEndOfCentralDirectory scans backwards over the last 64KiB of the
// container for the end of central directory record, tolerating a
// trailing comment.
func FindEndOfCentralDirectory(r io.ReaderAt, size int64) (*EndOfCentralDirectory, error) {
	if size < eocdLen {
		return nil, fmt.Errorf("container too small: %d bytes", size)
	}

	scan := int64(eocdLen + maxCommentLen)
	if scan > size {
		scan = size
	}

	buf := make([]byte, scan)
	if _, err := r.ReadAt(buf, size-scan); err != nil {
		return nil, err
	}

	for i := len(buf) - eocdLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) != eocdSignature {
			continue
		}

		if commentLen := int(binary.LittleEndian.Uint16(buf[i+20:])); i+eocdLen+commentLen != len(buf) {
			continue
		}

		return &EndOfCentralDirectory{
			Offset:                 size - scan + int64(i),
			CentralDirectoryOffset: binary.LittleEndian.Uint32(buf[i+16:]),
			CentralDirectorySize:   binary.LittleEndian.Uint32(buf[i+12:]),
			Raw:                    append([]byte(nil), buf[i:]...),
		}, nil
	}

	return nil, errors.New("end of central directory not found")
}

// PatchCentralDirectoryOffset returns a copy of the given end of central
// directory record with its central directory offset field replaced.
func PatchCentralDirectoryOffset(eocd []byte, offset uint32) ([]byte, error) {
	if len(eocd) < eocdLen || binary.LittleEndian.Uint32(eocd) != eocdSignature {
		return nil, errors.New("malformed end of central directory")
	}

	patched := append([]byte(nil), eocd...)
	binary.LittleEndian.PutUint32(patched[16:], offset)

	return patched, nil
}

// FindSigningBlock reports the offset and total length of an APK signing
// block ending immediately before the central directory, if one is there.
func FindSigningBlock(r io.ReaderAt, cdOffset int64) (int64, int64, bool) {
	if cdOffset < 32 {
		return 0, 0, false
	}

	footer := make([]byte, 24)
	if _, err := r.ReadAt(footer, cdOffset-24); err != nil {
		return 0, 0, false
	}

	if string(footer[8:]) != SigningBlockMagic {
		return 0, 0, false
	}

	// The trailing size field excludes the leading one.
	size := int64(binary.LittleEndian.Uint64(footer))
	start := cdOffset - size - 8
	if size < 24 || start < 0 {
		return 0, 0, false
	}

	head := make([]byte, 8)
	if _, err := r.ReadAt(head, start); err != nil {
		return 0, 0, false
	}

	if int64(binary.LittleEndian.Uint64(head)) != size {
		return 0, 0, false
	}

	return start, size + 8, true
}

// StripAlignExtra returns extra without any alignment padding fields,
// leaving every other field in place. Bytes that do not parse as extra
// fields are kept verbatim.
func StripAlignExtra(extra []byte) []byte {
	stripped := make([]byte, 0, len(extra))

	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra)
		n := int(binary.LittleEndian.Uint16(extra[2:]))
		if 4+n > len(extra) {
			break
		}

		if id != AlignExtraID {
			stripped = append(stripped, extra[:4+n]...)
		}

		extra = extra[4+n:]
	}

	return append(stripped, extra...)
}

// AlignExtra appends a padding field to extra so that the data of a local
// record written at headerOffset begins on a multiple of boundary. It
// returns extra unchanged if the data already lands on the boundary.
func AlignExtra(extra []byte, headerOffset int64, nameLen, boundary int) []byte {
	dataOffset := headerOffset + localHeaderLen + int64(nameLen) + int64(len(extra))
	if dataOffset%int64(boundary) == 0 {
		return extra
	}

	// The field itself is 4 bytes of header plus n bytes of zeros.
	n := (boundary - int((dataOffset+4)%int64(boundary))) % boundary

	padded := make([]byte, 0, len(extra)+4+n)
	padded = append(padded, extra...)
	padded = binary.LittleEndian.AppendUint16(padded, AlignExtraID)
	padded = binary.LittleEndian.AppendUint16(padded, uint16(n))

	return append(padded, make([]byte, n)...)
}

// LocalRecordSize returns the number of bytes the local record for fh
// occupies when written raw: fixed header, name, extra, payload and,
// when flagged, the data descriptor.
func LocalRecordSize(fh *zip.FileHeader) int64 {
	size := int64(localHeaderLen) + int64(len(fh.Name)) + int64(len(fh.Extra)) + int64(fh.CompressedSize64)
	if fh.Flags&0x8 != 0 {
		size += dataDescriptorLen
	}

	return size
}

// CopyAligned writes f raw through zw, stripping any prior alignment
// padding and, for stored file entries, re-padding the extra field so
// that the entry's data begins on a multiple of boundary given that the
// local record lands at offset. It returns the number of bytes the
// record occupies.
func CopyAligned(zw *zip.Writer, f *zip.File, offset int64, boundary int) (int64, error) {
	fh := f.FileHeader
	fh.Extra = StripAlignExtra(fh.Extra)

	if fh.Method == zip.Store && !strings.HasSuffix(fh.Name, "/") {
		fh.Extra = AlignExtra(fh.Extra, offset, len(fh.Name), boundary)
	}

	w, err := zw.CreateRaw(&fh)
	if err != nil {
		return 0, err
	}

	r, err := f.OpenRaw()
	if err != nil {
		return 0, err
	}

	if _, err = io.Copy(w, r); err != nil {
		return 0, err
	}

	return LocalRecordSize(&fh), nil
}
