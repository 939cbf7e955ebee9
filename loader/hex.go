package loader

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/juju/errors"
)

// Intel HEX record types.
const (
	hexData         = 0x00
	hexEOF          = 0x01
	hexExtSegment   = 0x02
	hexStartSegment = 0x03
	hexExtLinear    = 0x04
	hexStartLinear  = 0x05
)

// ParseHex parses an Intel HEX image. Contiguous data records are merged
// into one segment.
func ParseHex(data []byte) (*Program, error) {
	prog := &Program{}
	var (
		upper uint32
		cur   *Segment
	)

	sc := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line[0] != ':' {
			return nil, errors.NotValidf("hex line %d: missing start code", lineNo)
		}
		rec, err := hex.DecodeString(line[1:])
		if err != nil {
			return nil, errors.NotValidf("hex line %d: %v", lineNo, err)
		}
		if len(rec) < 5 || len(rec) != int(rec[0])+5 {
			return nil, errors.NotValidf("hex line %d: bad record length", lineNo)
		}
		var sum byte
		for _, b := range rec {
			sum += b
		}
		if sum != 0 {
			return nil, errors.NotValidf("hex line %d: checksum", lineNo)
		}

		n := int(rec[0])
		offset := uint32(rec[1])<<8 | uint32(rec[2])
		payload := rec[4 : 4+n]

		switch rec[3] {
		case hexData:
			addr := upper + offset
			if cur != nil && cur.PhysAddr+uint32(len(cur.Data)) == addr {
				cur.Data = append(cur.Data, payload...)
				cur.MemSize = uint32(len(cur.Data))
				continue
			}
			prog.Segments = append(prog.Segments, Segment{
				VirtAddr: addr,
				PhysAddr: addr,
				Data:     append([]byte(nil), payload...),
				MemSize:  uint32(n),
				Flags:    SegmentFlagRead | SegmentFlagExecute,
			})
			cur = &prog.Segments[len(prog.Segments)-1]
		case hexEOF:
			return prog, nil
		case hexExtSegment:
			if n != 2 {
				return nil, errors.NotValidf("hex line %d: extended segment address", lineNo)
			}
			upper = (uint32(payload[0])<<8 | uint32(payload[1])) << 4
			cur = nil
		case hexExtLinear:
			if n != 2 {
				return nil, errors.NotValidf("hex line %d: extended linear address", lineNo)
			}
			upper = (uint32(payload[0])<<8 | uint32(payload[1])) << 16
			cur = nil
		case hexStartSegment, hexStartLinear:
			if n != 4 {
				return nil, errors.NotValidf("hex line %d: start address", lineNo)
			}
			v := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
			if rec[3] == hexStartSegment {
				v = (v>>16)<<4 + v&0xFFFF
			}
			prog.EntryPoint = v
			prog.HasEntry = true
		default:
			return nil, errors.NotValidf("hex line %d: record type %d", lineNo, rec[3])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return nil, errors.NotValidf("hex image without an end-of-file record")
}
