package netcdf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"
)

const streamingNumRecs = int32(-1)

// ReadFile reads a NetCDF classic file. Gzip compressed files (as written
// for time series cells) are decompressed transparently.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read NetCDF file %s: %s", path, err)
	}

	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream %s: %s", path, err)
		}
		data, err = io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %s", path, err)
		}
	}

	file, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode NetCDF file %s: %s", path, err)
	}

	return file, nil
}

// Decode parses a NetCDF classic byte stream including all variable data.
func Decode(data []byte) (*File, error) {
	dec := &decoder{data: data}

	magic := dec.bytes(4)
	if dec.err != nil || magic[0] != 'C' || magic[1] != 'D' || magic[2] != 'F' {
		return nil, fmt.Errorf("not a NetCDF classic file")
	}
	if magic[3] != 1 && magic[3] != 2 {
		return nil, fmt.Errorf("unsupported NetCDF variant %d", magic[3])
	}

	f := &File{Version: int(magic[3])}

	numRecs := dec.i32()

	if err := dec.dimList(f); err != nil {
		return nil, err
	}

	attrs, err := dec.attrList()
	if err != nil {
		return nil, err
	}
	f.Attrs = attrs

	begins, err := dec.varList(f)
	if err != nil {
		return nil, err
	}

	if dec.err != nil {
		return nil, dec.err
	}

	if err := f.readData(data, begins, numRecs); err != nil {
		return nil, err
	}

	return f, nil
}

func (f *File) readData(data []byte, begins []int64, numRecs int32) error {
	recSize := f.recSize()

	if numRecs == streamingNumRecs {
		// record count omitted by a streaming writer, derive it from the
		// file size
		numRecs = 0
		if recSize > 0 {
			recStart := int64(len(data))
			for i := range f.Vars {
				if f.isRecord(&f.Vars[i]) && begins[i] < recStart {
					recStart = begins[i]
				}
			}
			numRecs = int32((int64(len(data)) - recStart) / int64(recSize))
		}
	}
	f.NumRecs = int(numRecs)

	single := f.singleRecordVar()

	for i := range f.Vars {
		v := &f.Vars[i]
		perRec := f.perRecordLen(v)

		if !f.isRecord(v) {
			values, err := readValues(data, begins[i], v.Type, perRec)
			if err != nil {
				return fmt.Errorf("variable %s: %s", v.Name, err)
			}
			v.Data = values
			continue
		}

		stride := int64(recSize)
		if single {
			stride = int64(perRec * v.Type.size())
		}

		var records []any
		for rec := int64(0); rec < int64(f.NumRecs); rec++ {
			values, err := readValues(data, begins[i]+rec*stride, v.Type, perRec)
			if err != nil {
				return fmt.Errorf("variable %s record %d: %s", v.Name, rec, err)
			}
			records = append(records, values)
		}
		v.Data = concatValues(v.Type, records)
	}

	return nil
}

func readValues(data []byte, at int64, typ Type, n int) (any, error) {
	size := int64(n * typ.size())
	if at < 0 || at+size > int64(len(data)) {
		return nil, fmt.Errorf("data range [%d, %d) outside file of %d bytes", at, at+size, len(data))
	}

	chunk := data[at : at+size]

	switch typ {
	case Char:
		return string(chunk), nil
	case Byte:
		return append([]byte(nil), chunk...), nil
	case Short:
		values := make([]int16, n)
		for i := range values {
			values[i] = int16(binary.BigEndian.Uint16(chunk[2*i:]))
		}
		return values, nil
	case Int:
		values := make([]int32, n)
		for i := range values {
			values[i] = int32(binary.BigEndian.Uint32(chunk[4*i:]))
		}
		return values, nil
	case Float:
		values := make([]float32, n)
		for i := range values {
			values[i] = math.Float32frombits(binary.BigEndian.Uint32(chunk[4*i:]))
		}
		return values, nil
	case Double:
		values := make([]float64, n)
		for i := range values {
			values[i] = math.Float64frombits(binary.BigEndian.Uint64(chunk[8*i:]))
		}
		return values, nil
	}

	return nil, fmt.Errorf("unsupported data type %d", typ)
}

func concatValues(typ Type, records []any) any {
	switch typ {
	case Char:
		var all string
		for _, rec := range records {
			all += rec.(string)
		}
		return all
	case Byte:
		var all []byte
		for _, rec := range records {
			all = append(all, rec.([]byte)...)
		}
		return all
	case Short:
		var all []int16
		for _, rec := range records {
			all = append(all, rec.([]int16)...)
		}
		return all
	case Int:
		var all []int32
		for _, rec := range records {
			all = append(all, rec.([]int32)...)
		}
		return all
	case Float:
		var all []float32
		for _, rec := range records {
			all = append(all, rec.([]float32)...)
		}
		return all
	case Double:
		var all []float64
		for _, rec := range records {
			all = append(all, rec.([]float64)...)
		}
		return all
	}
	return nil
}

func (dec *decoder) dimList(f *File) error {
	tag := dec.i32()
	count := dec.i32()

	if tag != tagDimension && (tag != 0 || count != 0) {
		return fmt.Errorf("malformed dimension list, tag %d", tag)
	}

	for i := int32(0); i < count; i++ {
		name := dec.name()
		length := dec.i32()
		f.Dims = append(f.Dims, Dim{Name: name, Len: int(length)})
	}

	return dec.err
}

func (dec *decoder) attrList() ([]Attr, error) {
	tag := dec.i32()
	count := dec.i32()

	if tag != tagAttribute && (tag != 0 || count != 0) {
		return nil, fmt.Errorf("malformed attribute list, tag %d", tag)
	}

	var attrs []Attr
	for i := int32(0); i < count; i++ {
		name := dec.name()
		typ := Type(dec.i32())
		n := dec.i32()

		if typ.size() == 0 {
			return nil, fmt.Errorf("attribute %s: unsupported type %d", name, typ)
		}

		chunk := dec.bytes(int(n) * typ.size())
		dec.align(int(n) * typ.size())
		if dec.err != nil {
			return nil, dec.err
		}

		value, err := readValues(chunk, 0, typ, int(n))
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %s", name, err)
		}

		attrs = append(attrs, Attr{Name: name, Value: value})
	}

	return attrs, dec.err
}

func (dec *decoder) varList(f *File) ([]int64, error) {
	tag := dec.i32()
	count := dec.i32()

	if tag != tagVariable && (tag != 0 || count != 0) {
		return nil, fmt.Errorf("malformed variable list, tag %d", tag)
	}

	var begins []int64
	for i := int32(0); i < count; i++ {
		v := Var{Name: dec.name()}

		ndims := dec.i32()
		for j := int32(0); j < ndims; j++ {
			dimIdx := dec.i32()
			if int(dimIdx) >= len(f.Dims) {
				return nil, fmt.Errorf("variable %s references unknown dimension %d", v.Name, dimIdx)
			}
			v.Dims = append(v.Dims, int(dimIdx))
		}

		attrs, err := dec.attrList()
		if err != nil {
			return nil, err
		}
		v.Attrs = attrs

		v.Type = Type(dec.i32())
		if v.Type.size() == 0 {
			return nil, fmt.Errorf("variable %s: unsupported type %d", v.Name, v.Type)
		}

		dec.i32() // vsize, recomputed from shape instead

		var begin int64
		if f.Version == 1 {
			begin = int64(dec.i32())
		} else {
			begin = dec.i64()
		}

		f.Vars = append(f.Vars, v)
		begins = append(begins, begin)
	}

	return begins, dec.err
}

// decoder is a cursor over the raw byte stream keeping the first error.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (dec *decoder) fail(err error) {
	if dec.err == nil {
		dec.err = err
	}
}

func (dec *decoder) bytes(n int) []byte {
	if dec.err != nil {
		return nil
	}
	if n < 0 || dec.off+n > len(dec.data) {
		dec.fail(fmt.Errorf("unexpected end of header at offset %d", dec.off))
		return nil
	}

	chunk := dec.data[dec.off : dec.off+n]
	dec.off += n

	return chunk
}

func (dec *decoder) i32() int32 {
	chunk := dec.bytes(4)
	if chunk == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(chunk))
}

func (dec *decoder) i64() int64 {
	chunk := dec.bytes(8)
	if chunk == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(chunk))
}

func (dec *decoder) name() string {
	length := dec.i32()
	chunk := dec.bytes(int(length))
	dec.align(int(length))
	return string(chunk)
}

// align skips the padding that follows a block of `n` bytes.
func (dec *decoder) align(n int) {
	dec.bytes(pad4(n) - n)
}
