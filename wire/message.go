package wire

import "fmt"

// flag bit positions within the 16-bit DNS header flags field.
const (
	flagResponse      = 1 << 15
	flagAuthoritative = 1 << 10
	opcodeShift       = 11
	opcodeMask        = 0xF
	rcodeMask         = 0xF
)

// Header is the fixed 12-byte portion of a DNS/mDNS message.
//
// mDNS queries and responses only ever use the zero opcode and the success
// rcode (RFC 6762 sections 18.3 and 18.11); TC/RD/RA/Z/AD/CD are always
// zero on transmission and ignored on reception, so Header does not expose
// them.
type Header struct {
	ID            uint16
	Response      bool
	Authoritative bool
	Opcode        uint8
	Rcode         uint8
}

func (h Header) flags() uint16 {
	var f uint16
	if h.Response {
		f |= flagResponse
	}
	if h.Authoritative {
		f |= flagAuthoritative
	}
	f |= uint16(h.Opcode&opcodeMask) << opcodeShift
	f |= uint16(h.Rcode & rcodeMask)
	return f
}

func headerFromFlags(id, flags uint16) Header {
	return Header{
		ID:            id,
		Response:      flags&flagResponse != 0,
		Authoritative: flags&flagAuthoritative != 0,
		Opcode:        uint8((flags >> opcodeShift) & opcodeMask),
		Rcode:         uint8(flags & rcodeMask),
	}
}

// Message is a full DNS/mDNS packet: a header plus the four RFC 1035
// sections.
type Message struct {
	Header
	Questions  []Question
	Answers    []Record
	Authority  []Record
	Additional []Record
}

// NewQuery returns an empty query message. Per RFC 6762 section 18.1, the
// transaction ID SHOULD be zero for true multicast queries; legacy
// ("one-shot") queriers that expect a unicast reply use a nonzero ID, which
// the caller supplies directly on the returned Header if needed.
func NewQuery() *Message {
	return &Message{Header: Header{}}
}

// NewResponse returns an empty response message with the QR and AA bits
// set, as required for multicast responses (RFC 6762 section 6).
func NewResponse() *Message {
	return &Message{Header: Header{Response: true, Authoritative: true}}
}

// Encode serializes m into buf, returning the number of bytes written.
// Encoding fails with ErrBufferFull if buf is too small; on failure no
// partial packet should be transmitted by the caller.
func (m *Message) Encode(buf []byte) (int, error) {
	w := NewWriter(buf)

	if err := w.WriteUint16(m.Header.ID); err != nil {
		return 0, err
	}
	if err := w.WriteUint16(m.Header.flags()); err != nil {
		return 0, err
	}
	if err := w.WriteUint16(uint16(len(m.Questions))); err != nil {
		return 0, err
	}
	if err := w.WriteUint16(uint16(len(m.Answers))); err != nil {
		return 0, err
	}
	if err := w.WriteUint16(uint16(len(m.Authority))); err != nil {
		return 0, err
	}
	if err := w.WriteUint16(uint16(len(m.Additional))); err != nil {
		return 0, err
	}

	for _, q := range m.Questions {
		if err := w.WriteName(q.Name); err != nil {
			return 0, err
		}
		if err := w.WriteUint16(uint16(q.Type)); err != nil {
			return 0, err
		}
		if err := w.WriteUint16(uint16(q.encodedClass())); err != nil {
			return 0, err
		}
	}

	for _, section := range [][]Record{m.Answers, m.Authority, m.Additional} {
		for _, rec := range section {
			if err := writeRecord(w, rec); err != nil {
				return 0, err
			}
		}
	}

	return w.Len(), nil
}

func writeRecord(w *Writer, rec Record) error {
	h := rec.Header()

	if err := w.WriteName(h.Name); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(rec.Type())); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(h.encodedClass())); err != nil {
		return err
	}
	if err := w.WriteUint32(h.TTL); err != nil {
		return err
	}

	mark, err := w.Rewind()
	if err != nil {
		return err
	}
	if err := rec.writeData(w); err != nil {
		return err
	}
	return w.Unrewind(mark)
}

// Decode parses buf into a new Message.
//
// Records of a type this engine does not handle are skipped by honoring the
// declared rdlength, per the reader's unknown-record-type policy; they do
// not appear in the returned Message.
func Decode(buf []byte) (*Message, error) {
	r := NewReader(buf)

	id, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	flags, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	qc, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	ac, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	nc, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	xc, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}

	m := &Message{Header: headerFromFlags(id, flags)}

	for i := 0; i < int(qc); i++ {
		q, err := readQuestion(r)
		if err != nil {
			return nil, err
		}
		m.Questions = append(m.Questions, q)
	}

	for i := 0; i < int(ac); i++ {
		rec, err := readRecord(r)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			m.Answers = append(m.Answers, rec)
		}
	}

	for i := 0; i < int(nc); i++ {
		rec, err := readRecord(r)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			m.Authority = append(m.Authority, rec)
		}
	}

	for i := 0; i < int(xc); i++ {
		rec, err := readRecord(r)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			m.Additional = append(m.Additional, rec)
		}
	}

	return m, nil
}

func readQuestion(r *Reader) (Question, error) {
	name, err := r.ReadName()
	if err != nil {
		return Question{}, err
	}
	t, err := r.ReadUint16()
	if err != nil {
		return Question{}, err
	}
	rawClass, err := r.ReadUint16()
	if err != nil {
		return Question{}, err
	}

	class := Class(rawClass)
	unicast := class&flushOrUnicastBit != 0
	class &^= flushOrUnicastBit

	return Question{
		Name:    name,
		Type:    RRType(t),
		Class:   class,
		Unicast: unicast,
	}, nil
}

func readRecord(r *Reader) (Record, error) {
	name, err := r.ReadName()
	if err != nil {
		return nil, err
	}
	t, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	rawClass, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	ttl, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	rdlength, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}

	class := Class(rawClass)
	cacheFlush := class&flushOrUnicastBit != 0
	class &^= flushOrUnicastBit

	end := r.Offset() + int(rdlength)
	if end > len(r.buf) {
		return nil, ErrTruncatedPacket
	}

	rec, ok := newRecord(RRType(t))
	if !ok {
		// Unknown record type: skip exactly rdlength bytes and report no
		// record, per the reader's unknown-type policy.
		r.Seek(end)
		return nil, nil
	}

	*rec.Header() = RecordHeader{Name: name, CacheFlush: cacheFlush, TTL: ttl}

	start := r.Offset()
	if err := rec.readData(r, int(rdlength)); err != nil {
		return nil, err
	}
	if r.Offset() != start+int(rdlength) {
		return nil, &MalformedRecordError{
			Type: RRType(t),
			Err:  fmt.Errorf("consumed %d bytes, rdlength was %d", r.Offset()-start, rdlength),
		}
	}

	return rec, nil
}
