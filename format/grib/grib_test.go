package grib

import (
	"math"
	"testing"
	"time"
)

// buildMessage assembles a GRIB 1 message holding a 2x3 field with values
// 10..15, reference value 10 and 8 bits per value.
func buildMessage() []byte {
	pds := make([]byte, 28)
	pds[0], pds[1], pds[2] = 0, 0, 28 // section length
	pds[3] = 128                      // table version
	pds[7] = 0x80                     // GDS present
	pds[8] = 39                       // parameter: swvl1
	pds[9] = 1                        // level type: surface
	pds[12] = 19                      // year of century
	pds[13] = 1
	pds[14] = 2
	pds[15] = 6  // hour
	pds[24] = 21 // century

	gds := make([]byte, 32)
	gds[0], gds[1], gds[2] = 0, 0, 32
	gds[3] = 0xFF // NV
	gds[4] = 0xFF // PV
	gds[5] = 0    // regular lat/lon
	gds[6], gds[7] = 0, 3
	gds[8], gds[9] = 0, 2
	gds[10], gds[11], gds[12] = 0, 0x03, 0xE8 // lat1 = 1.0
	gds[13], gds[14], gds[15] = 0, 0, 0       // lon1 = 0.0
	gds[17], gds[18], gds[19] = 0, 0, 0       // lat2 = 0.0
	gds[20], gds[21], gds[22] = 0, 0x07, 0xD0 // lon2 = 2.0
	gds[23], gds[24] = 0x03, 0xE8             // dlon = 1.0
	gds[25], gds[26] = 0x03, 0xE8             // dlat = 1.0

	bds := make([]byte, 17)
	bds[0], bds[1], bds[2] = 0, 0, 17
	bds[6], bds[7], bds[8], bds[9] = 0x41, 0xA0, 0, 0 // reference: 10.0 as IBM float
	bds[10] = 8
	copy(bds[11:], []byte{0, 1, 2, 3, 4, 5})

	body := append(pds, gds...)
	body = append(body, bds...)
	body = append(body, []byte("7777")...)

	length := 8 + len(body)
	msg := []byte{'G', 'R', 'I', 'B', byte(length >> 16), byte(length >> 8), byte(length), 1}

	return append(msg, body...)
}

func TestSplitAndDecode(t *testing.T) {
	// leading junk must be skipped by the scanner
	data := append([]byte("not grib "), buildMessage()...)
	data = append(data, buildMessage()...)

	messages, err := Split(data)
	if err != nil {
		t.Fatalf("failed to split: %s", err)
	}
	if len(messages) != 2 {
		t.Fatalf("message count: got %d, want 2", len(messages))
	}

	msg := messages[0]
	if msg.Param != 39 {
		t.Errorf("parameter: got %d, want 39", msg.Param)
	}

	expecting := time.Date(2019, 1, 2, 6, 0, 0, 0, time.UTC)
	if !msg.RefTime.Equal(expecting) {
		t.Errorf("reference time: got %s, want %s", msg.RefTime, expecting)
	}

	field, err := msg.Decode()
	if err != nil {
		t.Fatalf("failed to decode: %s", err)
	}

	if field.Ni != 3 || field.Nj != 2 {
		t.Fatalf("grid shape: got %dx%d, want 3x2", field.Ni, field.Nj)
	}

	for i, want := range []float64{10, 11, 12, 13, 14, 15} {
		if math.Abs(field.Values[i]-want) > 1e-9 {
			t.Errorf("value %d: got %g, want %g", i, field.Values[i], want)
		}
	}

	lats := field.Lats()
	if lats[0] != 1 || lats[1] != 0 {
		t.Errorf("latitudes: got %v, want [1 0]", lats)
	}

	lons := field.Lons()
	if lons[0] != 0 || lons[2] != 2 {
		t.Errorf("longitudes: got %v, want [0 1 2]", lons)
	}
}

func TestDecodeRejectsCorruptSectionLengths(t *testing.T) {
	// section offsets in the test message: PDS at 8, GDS at 36, BDS at 68
	cases := []struct {
		name   string
		offset int
	}{
		{"product definition", 8},
		{"grid description", 36},
		{"binary data", 68},
	}

	for _, c := range cases {
		messages, err := Split(buildMessage())
		if err != nil {
			t.Fatalf("failed to split: %s", err)
		}

		msg := messages[0]
		// length 10000, way past the end of the message
		msg.Raw[c.offset], msg.Raw[c.offset+1], msg.Raw[c.offset+2] = 0x00, 0x27, 0x10

		if _, err := msg.Decode(); err == nil {
			t.Errorf("expecting error for oversized %s section, got none", c.name)
		}
	}
}

func TestSplitRejectsBadInput(t *testing.T) {
	if _, err := Split([]byte("nothing in here")); err != ErrNoMessages {
		t.Errorf("expecting ErrNoMessages, got %v", err)
	}

	msg := buildMessage()
	msg[7] = 2 // edition 2
	if _, err := Split(msg); err == nil {
		t.Error("expecting error for edition 2, got none")
	}

	msg = buildMessage()
	msg[len(msg)-1] = 'x'
	if _, err := Split(msg); err == nil {
		t.Error("expecting error for missing end marker, got none")
	}
}
