// Package grib implements the subset of GRIB edition 1 needed for ERA5
// fields on regular latitude/longitude grids: message framing, product
// definition parsing and simple packing.
package grib

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNoMessages     = errors.New("no GRIB messages found")
	ErrEdition        = errors.New("unsupported GRIB edition")
	ErrPacking        = errors.New("unsupported packing")
	ErrRepresentation = errors.New("unsupported grid representation")
)

// Message is one raw GRIB record with the fields needed for routing parsed
// out of its product definition section.
type Message struct {
	Param     int
	LevelType int
	Level     int
	RefTime   time.Time
	Raw       []byte
}

// Field is a decoded regular latitude/longitude field.
type Field struct {
	Ni, Nj     int
	Lat1, Lon1 float64
	Lat2, Lon2 float64
	DLat, DLon float64
	Values     []float64
}

// Split scans a byte stream for GRIB messages. Bytes between messages are
// ignored, a message with a bad length or missing end marker is an error.
func Split(data []byte) ([]Message, error) {
	var messages []Message

	rest := data
	for {
		idx := bytes.Index(rest, []byte("GRIB"))
		if idx < 0 {
			break
		}
		rest = rest[idx:]

		if len(rest) < 8 {
			return nil, fmt.Errorf("truncated GRIB indicator section")
		}

		length := num3(rest[4:])
		if rest[7] != 1 {
			return nil, fmt.Errorf("%w %d", ErrEdition, rest[7])
		}
		if length < 12 || length > len(rest) {
			return nil, fmt.Errorf("GRIB message length %d exceeds remaining %d bytes", length, len(rest))
		}

		raw := rest[:length]
		if !bytes.Equal(raw[length-4:], []byte("7777")) {
			return nil, fmt.Errorf("GRIB end marker missing")
		}

		msg, err := parseMessage(raw)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)

		rest = rest[length:]
	}

	if len(messages) == 0 {
		return nil, ErrNoMessages
	}

	return messages, nil
}

func parseMessage(raw []byte) (Message, error) {
	pds := raw[8:]
	if len(pds) < 28 {
		return Message{}, fmt.Errorf("truncated product definition section")
	}

	yearOfCentury := int(pds[12])
	century := int(pds[24])
	refTime := time.Date(
		(century-1)*100+yearOfCentury, time.Month(pds[13]), int(pds[14]),
		int(pds[15]), int(pds[16]), 0, 0, time.UTC)

	return Message{
		Param:     int(pds[8]),
		LevelType: int(pds[9]),
		Level:     int(pds[10])<<8 | int(pds[11]),
		RefTime:   refTime,
		Raw:       raw,
	}, nil
}

// Decode unpacks the data section of the message into a regular grid field.
// Section lengths come from the file and are validated against the message
// size before any re-slicing, corrupt lengths are decode errors.
func (m *Message) Decode() (*Field, error) {
	pds := m.Raw[8:]
	pdsLen := num3(pds)
	if pdsLen < 28 || 8+pdsLen > len(m.Raw) {
		return nil, fmt.Errorf("product definition section length %d exceeds message of %d bytes",
			pdsLen, len(m.Raw))
	}
	flags := pds[7]

	cursor := 8 + pdsLen

	if flags&0x80 == 0 {
		return nil, fmt.Errorf("message without grid description section")
	}

	gds := m.Raw[cursor:]
	if len(gds) < 28 {
		return nil, fmt.Errorf("truncated grid description section")
	}
	gdsLen := num3(gds)
	if gdsLen < 28 || gdsLen > len(gds) {
		return nil, fmt.Errorf("grid description section length %d exceeds remaining %d bytes",
			gdsLen, len(gds))
	}

	if gds[5] != 0 {
		return nil, fmt.Errorf("%w %d, only regular latitude/longitude supported", ErrRepresentation, gds[5])
	}

	field := &Field{
		Ni:   int(gds[6])<<8 | int(gds[7]),
		Nj:   int(gds[8])<<8 | int(gds[9]),
		Lat1: milliDeg(gds[10:]),
		Lon1: milliDeg(gds[13:]),
		Lat2: milliDeg(gds[17:]),
		Lon2: milliDeg(gds[20:]),
		DLat: float64(signMag16(gds[25:])) / 1000,
		DLon: float64(signMag16(gds[23:])) / 1000,
	}
	if gds[27] != 0 {
		return nil, fmt.Errorf("unsupported scanning mode %#x", gds[27])
	}

	cursor += gdsLen

	var bitmap []byte
	if flags&0x40 != 0 {
		bms := m.Raw[cursor:]
		if len(bms) < 6 {
			return nil, fmt.Errorf("truncated bitmap section")
		}
		bmsLen := num3(bms)
		if bmsLen < 6 || bmsLen > len(bms) {
			return nil, fmt.Errorf("bitmap section length %d exceeds remaining %d bytes",
				bmsLen, len(bms))
		}
		bitmap = bms[6:bmsLen]
		cursor += bmsLen
	}

	bds := m.Raw[cursor:]
	if len(bds) < 11 {
		return nil, fmt.Errorf("truncated binary data section")
	}
	bdsLen := num3(bds)
	if bdsLen < 11 || bdsLen > len(bds) {
		return nil, fmt.Errorf("binary data section length %d exceeds remaining %d bytes",
			bdsLen, len(bds))
	}

	if bds[3]&0xC0 != 0 {
		return nil, fmt.Errorf("%w: only grid point simple packing supported", ErrPacking)
	}
	unusedBits := int(bds[3] & 0x0F)

	binScale := signMag16(bds[4:])
	ref := ibmFloat(bds[6:])
	bitsPerValue := int(bds[10])

	decScale := signMag16(pds[26:])
	decFactor := math.Pow(10, float64(decScale))

	n := field.Ni * field.Nj

	packed, err := unpackBits(bds[11:bdsLen], bitsPerValue, unusedBits)
	if err != nil {
		return nil, err
	}

	scale := math.Pow(2, float64(binScale))

	values := make([]float64, 0, n)
	next := 0
	for i := 0; i < n; i++ {
		if bitmap != nil && !bitmapSet(bitmap, i) {
			values = append(values, math.NaN())
			continue
		}

		var x float64
		if bitsPerValue > 0 {
			if next >= len(packed) {
				return nil, fmt.Errorf("packed data too short: %d values for %d grid points", len(packed), n)
			}
			x = float64(packed[next])
			next++
		}

		values = append(values, (ref+x*scale)/decFactor)
	}

	field.Values = values

	return field, nil
}

// Lons returns the longitude of every column, wrapped into (-180, 180].
func (f *Field) Lons() []float64 {
	lons := make([]float64, f.Ni)
	for i := range lons {
		lon := f.Lon1 + float64(i)*f.DLon
		if lon > 180 {
			lon -= 360
		}
		lons[i] = lon
	}
	return lons
}

// Lats returns the latitude of every row, north to south.
func (f *Field) Lats() []float64 {
	lats := make([]float64, f.Nj)
	for i := range lats {
		lats[i] = f.Lat1 - float64(i)*f.DLat
	}
	return lats
}

func unpackBits(data []byte, bitsPerValue, unusedBits int) ([]uint64, error) {
	if bitsPerValue == 0 {
		return nil, nil
	}
	if bitsPerValue > 32 {
		return nil, fmt.Errorf("%w: %d bits per value", ErrPacking, bitsPerValue)
	}

	totalBits := len(data)*8 - unusedBits
	count := totalBits / bitsPerValue

	values := make([]uint64, 0, count)
	acc := uint64(0)
	accBits := 0
	for _, b := range data {
		acc = acc<<8 | uint64(b)
		accBits += 8

		for accBits >= bitsPerValue && len(values) < count {
			accBits -= bitsPerValue
			values = append(values, acc>>uint(accBits))
			acc &= (1 << uint(accBits)) - 1
		}
	}

	return values, nil
}

func bitmapSet(bitmap []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(0x80>>uint(i%8)) != 0
}

// num3 reads a 3 byte big endian unsigned number.
func num3(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

// signMag16 reads a 2 byte sign-magnitude number.
func signMag16(b []byte) int {
	v := int(b[0]&0x7F)<<8 | int(b[1])
	if b[0]&0x80 != 0 {
		return -v
	}
	return v
}

// signMag24 reads a 3 byte sign-magnitude number.
func signMag24(b []byte) int {
	v := int(b[0]&0x7F)<<16 | int(b[1])<<8 | int(b[2])
	if b[0]&0x80 != 0 {
		return -v
	}
	return v
}

// milliDeg reads a 3 byte sign-magnitude coordinate in millidegree.
func milliDeg(b []byte) float64 {
	return float64(signMag24(b)) / 1000
}

// ibmFloat converts the 4 byte IBM hexadecimal float used for reference
// values.
func ibmFloat(b []byte) float64 {
	mantissa := int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	exponent := int(b[0]&0x7F) - 64

	v := float64(mantissa) / float64(1<<24) * math.Pow(16, float64(exponent))
	if b[0]&0x80 != 0 {
		return -v
	}
	return v
}
