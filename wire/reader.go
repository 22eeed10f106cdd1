package wire

import "encoding/binary"

// pointerMask identifies the two high bits that flag a compression pointer
// in a label length octet.
const pointerMask = 0xC0

// Reader provides positional, pointer-aware decoding over a single DNS/mDNS
// packet. A Reader must not outlive the byte slice it was constructed with.
type Reader struct {
	buf    []byte
	offset int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset returns the reader's current position.
func (r *Reader) Offset() int { return r.offset }

// Seek repositions the reader. It is used by record decoders that need to
// bound reads to an rdlength without consuming the whole remainder of the
// buffer.
func (r *Reader) Seek(offset int) { r.offset = offset }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.offset }

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	if r.Remaining() < 1 {
		return 0, ErrTruncatedPacket
	}
	v := r.buf[r.offset]
	r.offset++
	return v, nil
}

// ReadUint16 reads a big-endian 16-bit value.
func (r *Reader) ReadUint16() (uint16, error) {
	if r.Remaining() < 2 {
		return 0, ErrTruncatedPacket
	}
	v := binary.BigEndian.Uint16(r.buf[r.offset:])
	r.offset += 2
	return v, nil
}

// ReadUint32 reads a big-endian 32-bit value.
func (r *Reader) ReadUint32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, ErrTruncatedPacket
	}
	v := binary.BigEndian.Uint32(r.buf[r.offset:])
	r.offset += 4
	return v, nil
}

// ReadBytes reads n raw bytes. The returned slice aliases the reader's
// underlying buffer and must be copied by the caller if it will outlive a
// subsequent mutation of that buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrTruncatedPacket
	}
	v := r.buf[r.offset : r.offset+n]
	r.offset += n
	return v, nil
}

// ReadString reads a single length-prefixed character-string, as used for
// each entry in a TXT record's rdata.
//
// See https://tools.ietf.org/html/rfc1035#section-3.3.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint8()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadName decodes a (possibly compressed) domain name starting at the
// reader's current position, following pointers as necessary.
//
// Decoding fails with ErrMalformedName on: a pointer cycle (bounded by
// capping the number of pointer hops at the packet length), a forward
// pointer that exceeds the packet length, a label whose two high bits are
// neither 00 nor 11, or a decoded name longer than MaxNameLength.
func (r *Reader) ReadName() (Name, error) {
	var (
		labels   Name
		pos      = r.offset
		hops     int
		total    int
		jumped   bool
		resumeAt int
	)

	for {
		if pos >= len(r.buf) {
			return nil, ErrTruncatedPacket
		}

		b := r.buf[pos]

		switch b & pointerMask {
		case 0x00:
			if b == 0 {
				pos++
				if !jumped {
					resumeAt = pos
				}
				r.offset = resumeAt
				return labels, nil
			}

			length := int(b)
			pos++
			if pos+length > len(r.buf) {
				return nil, ErrTruncatedPacket
			}

			total += length + 1
			if total > MaxNameLength {
				return nil, ErrMalformedName
			}

			label := make([]byte, length)
			copy(label, r.buf[pos:pos+length])
			labels = append(labels, Label(label))
			pos += length

		case pointerMask:
			if pos+1 >= len(r.buf) {
				return nil, ErrTruncatedPacket
			}

			ptr := int(b&^pointerMask)<<8 | int(r.buf[pos+1])
			if ptr > len(r.buf) {
				return nil, ErrMalformedName
			}

			if !jumped {
				resumeAt = pos + 2
			}
			jumped = true

			hops++
			if hops > len(r.buf) {
				// Every hop strictly advances past at least one byte's
				// worth of pointer state; bounding hops by the packet
				// length makes an infinite pointer cycle impossible to
				// sustain.
				return nil, ErrMalformedName
			}

			pos = ptr

		default:
			// Top bits 01 or 10 are reserved (RFC 1035 extended label
			// types never standardized for DNS).
			return nil, ErrMalformedName
		}
	}
}
