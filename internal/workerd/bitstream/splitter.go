// Package bitstream manipulates raw H.264 Annex-B elementary streams.
package bitstream

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

const readChunk = 256 * 1024

// Splitter yields access units from an Annex-B stream whose access units
// begin with an access unit delimiter.
type Splitter struct {
	r   *bufio.Reader
	buf []byte
	eof bool
}

// NewSplitter reads from r.
func NewSplitter(r io.Reader) *Splitter {
	return &Splitter{r: bufio.NewReaderSize(r, readChunk)}
}

// Next returns the raw bytes of the next access unit, start codes included.
// It returns io.EOF once the stream is exhausted.
func (s *Splitter) Next() ([]byte, error) {
	from := 2
	for {
		if cut := nextDelimiter(s.buf, from); cut >= 0 {
			au := s.buf[:cut:cut]
			s.buf = s.buf[cut:]
			return au, nil
		}
		if s.eof {
			if len(s.buf) == 0 {
				return nil, io.EOF
			}
			au := s.buf
			s.buf = nil
			return au, nil
		}
		from = max(2, len(s.buf)-4)
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
}

func (s *Splitter) fill() error {
	chunk := make([]byte, readChunk)
	n, err := io.ReadFull(s.r, chunk)
	s.buf = append(s.buf, chunk[:n]...)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.eof = true
		return nil
	default:
		return err
	}
}

// nextDelimiter finds the start of the next AUD NAL unit at or after from,
// including a leading zero of a four-byte start code. It returns -1 when
// none is present.
func nextDelimiter(buf []byte, from int) int {
	for i := from; i+3 < len(buf); {
		j := bytes.Index(buf[i:], []byte{0, 0, 1})
		if j < 0 || i+j+3 >= len(buf) {
			return -1
		}
		pos := i + j
		if h264.NALUType(buf[pos+3]&0x1f) == h264.NALUTypeAccessUnitDelimiter {
			if pos > 0 && buf[pos-1] == 0 {
				pos--
			}
			if pos > 0 {
				return pos
			}
		}
		i = pos + 3
	}
	return -1
}

// AccessUnit is a parsed access unit.
type AccessUnit struct {
	Raw   []byte
	NALUs h264.AnnexB
}

// Parse splits raw into NAL units.
func Parse(raw []byte) (AccessUnit, error) {
	var au h264.AnnexB
	if err := au.Unmarshal(raw); err != nil {
		return AccessUnit{}, err
	}
	return AccessUnit{Raw: raw, NALUs: au}, nil
}

// IsIDR reports whether the access unit is a random access point.
func (a AccessUnit) IsIDR() bool {
	return h264.IsRandomAccess(a.NALUs)
}

// IsPredicted reports whether the access unit carries a non-IDR slice.
func (a AccessUnit) IsPredicted() bool {
	for _, nalu := range a.NALUs {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1f) == h264.NALUTypeNonIDR {
			return true
		}
	}
	return false
}
