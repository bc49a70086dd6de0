package netcdf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	tagDimension int32 = 0x0A
	tagVariable  int32 = 0x0B
	tagAttribute int32 = 0x0C
)

// WriteFile encodes the dataset into a file at given path.
func (f *File) WriteFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create NetCDF file %s: %s", path, err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriter(file)
	if err := f.Encode(bufWriter); err != nil {
		return fmt.Errorf("failed to write NetCDF file %s: %s", path, err)
	}

	return bufWriter.Flush()
}

// Encode writes the dataset in NetCDF classic layout.
func (f *File) Encode(w io.Writer) error {
	if err := f.prepare(); err != nil {
		return err
	}

	enc := &encoder{w: w}

	version := byte(f.Version)
	enc.raw([]byte{'C', 'D', 'F', version})
	enc.i32(int32(f.NumRecs))

	f.encodeDims(enc)
	encodeAttrs(enc, f.Attrs)
	f.encodeVars(enc)
	f.encodeData(enc)

	return enc.err
}

// prepare validates the dataset and fills derived fields (version, record
// count) in.
func (f *File) prepare() error {
	if f.Version == 0 {
		f.Version = 2
	}
	if f.Version != 1 && f.Version != 2 {
		return fmt.Errorf("unsupported NetCDF version %d", f.Version)
	}

	recDims := 0
	for _, dim := range f.Dims {
		if dim.Len == 0 {
			recDims++
		}
	}
	if recDims > 1 {
		return fmt.Errorf("%d record dimensions declared, at most one allowed", recDims)
	}

	f.NumRecs = 0
	for i := range f.Vars {
		v := &f.Vars[i]

		for _, dimIdx := range v.Dims {
			if dimIdx < 0 || dimIdx >= len(f.Dims) {
				return fmt.Errorf("variable %s references unknown dimension %d", v.Name, dimIdx)
			}
		}
		for j, dimIdx := range v.Dims {
			if j > 0 && f.Dims[dimIdx].Len == 0 {
				return fmt.Errorf("variable %s: record dimension must come first", v.Name)
			}
		}

		n, err := dataLen(v.Data)
		if err != nil {
			return fmt.Errorf("variable %s: %s", v.Name, err)
		}

		perRec := f.perRecordLen(v)
		if f.isRecord(v) {
			if perRec == 0 || n%perRec != 0 {
				return fmt.Errorf("variable %s: data length %d not a multiple of record length %d", v.Name, n, perRec)
			}
			recs := n / perRec
			if recs > f.NumRecs {
				f.NumRecs = recs
			}
		} else if n != perRec {
			return fmt.Errorf("variable %s: data length %d does not match shape size %d", v.Name, n, perRec)
		}
	}

	return nil
}

func (f *File) encodeDims(enc *encoder) {
	if len(f.Dims) == 0 {
		enc.i32(0)
		enc.i32(0)
		return
	}

	enc.i32(tagDimension)
	enc.i32(int32(len(f.Dims)))
	for _, dim := range f.Dims {
		enc.name(dim.Name)
		enc.i32(int32(dim.Len))
	}
}

func encodeAttrs(enc *encoder, attrs []Attr) {
	if len(attrs) == 0 {
		enc.i32(0)
		enc.i32(0)
		return
	}

	enc.i32(tagAttribute)
	enc.i32(int32(len(attrs)))
	for _, attr := range attrs {
		enc.name(attr.Name)

		typ, n, err := attrShape(attr.Value)
		if err != nil {
			enc.fail(fmt.Errorf("attribute %s: %s", attr.Name, err))
			return
		}

		enc.i32(int32(typ))
		enc.i32(int32(n))
		enc.values(attr.Value)
		enc.pad(n * typ.size())
	}
}

func (f *File) encodeVars(enc *encoder) {
	if len(f.Vars) == 0 {
		enc.i32(0)
		enc.i32(0)
		return
	}

	begins := f.beginOffsets()

	enc.i32(tagVariable)
	enc.i32(int32(len(f.Vars)))
	for i := range f.Vars {
		v := &f.Vars[i]

		enc.name(v.Name)
		enc.i32(int32(len(v.Dims)))
		for _, dimIdx := range v.Dims {
			enc.i32(int32(dimIdx))
		}
		encodeAttrs(enc, v.Attrs)
		enc.i32(int32(v.Type))
		enc.i32(int32(f.vsize(v)))
		if f.Version == 1 {
			enc.i32(int32(begins[i]))
		} else {
			enc.i64(begins[i])
		}
	}
}

// beginOffsets computes the data start offset of every variable: fixed
// variables first in declaration order, record variables following.
func (f *File) beginOffsets() []int64 {
	offset := int64(f.headerSize())
	begins := make([]int64, len(f.Vars))

	for i := range f.Vars {
		if f.isRecord(&f.Vars[i]) {
			continue
		}
		begins[i] = offset
		offset += int64(f.vsize(&f.Vars[i]))
	}

	single := f.singleRecordVar()
	for i := range f.Vars {
		if !f.isRecord(&f.Vars[i]) {
			continue
		}
		begins[i] = offset
		if single {
			offset += int64(f.perRecordLen(&f.Vars[i]) * f.Vars[i].Type.size())
		} else {
			offset += int64(f.vsize(&f.Vars[i]))
		}
	}

	return begins
}

func (f *File) singleRecordVar() bool {
	cnt := 0
	for i := range f.Vars {
		if f.isRecord(&f.Vars[i]) {
			cnt++
		}
	}
	return cnt == 1
}

func (f *File) headerSize() int {
	size := 4 + 4 // magic, numrecs

	size += 8
	for _, dim := range f.Dims {
		size += nameSize(dim.Name) + 4
	}

	size += attrListSize(f.Attrs)

	size += 8
	for i := range f.Vars {
		v := &f.Vars[i]
		size += nameSize(v.Name) + 4 + 4*len(v.Dims)
		size += attrListSize(v.Attrs)
		size += 4 + 4 // nc_type, vsize
		if f.Version == 1 {
			size += 4
		} else {
			size += 8
		}
	}

	return size
}

func nameSize(name string) int {
	return 4 + pad4(len(name))
}

func attrListSize(attrs []Attr) int {
	size := 8
	for _, attr := range attrs {
		typ, n, err := attrShape(attr.Value)
		if err != nil {
			continue
		}
		size += nameSize(attr.Name) + 4 + 4 + pad4(n*typ.size())
	}
	return size
}

func (f *File) encodeData(enc *encoder) {
	// fixed variables
	for i := range f.Vars {
		v := &f.Vars[i]
		if f.isRecord(v) {
			continue
		}
		enc.values(v.Data)
		enc.pad(f.perRecordLen(v) * v.Type.size())
	}

	// record variables, interleaved per record
	single := f.singleRecordVar()
	for rec := 0; rec < f.NumRecs; rec++ {
		for i := range f.Vars {
			v := &f.Vars[i]
			if !f.isRecord(v) {
				continue
			}

			perRec := f.perRecordLen(v)
			slice, err := sliceRange(v.Data, rec*perRec, (rec+1)*perRec)
			if err != nil {
				enc.fail(fmt.Errorf("variable %s record %d: %s", v.Name, rec, err))
				return
			}

			enc.values(slice)
			if !single {
				enc.pad(perRec * v.Type.size())
			}
		}
	}
}

// attrShape maps an attribute value to its external type and element count.
func attrShape(value any) (Type, int, error) {
	switch v := value.(type) {
	case string:
		return Char, len(v), nil
	case []byte:
		return Byte, len(v), nil
	case []int16:
		return Short, len(v), nil
	case []int32:
		return Int, len(v), nil
	case []float32:
		return Float, len(v), nil
	case []float64:
		return Double, len(v), nil
	}
	return 0, 0, fmt.Errorf("unsupported value type %T", value)
}

func dataLen(value any) (int, error) {
	if value == nil {
		return 0, nil
	}

	switch v := value.(type) {
	case string:
		return len(v), nil
	case []byte:
		return len(v), nil
	case []int16:
		return len(v), nil
	case []int32:
		return len(v), nil
	case []float32:
		return len(v), nil
	case []float64:
		return len(v), nil
	}
	return 0, fmt.Errorf("unsupported value type %T", value)
}

func sliceRange(value any, from, to int) (any, error) {
	switch v := value.(type) {
	case string:
		return v[from:to], nil
	case []byte:
		return v[from:to], nil
	case []int16:
		return v[from:to], nil
	case []int32:
		return v[from:to], nil
	case []float32:
		return v[from:to], nil
	case []float64:
		return v[from:to], nil
	}
	return nil, fmt.Errorf("unsupported value type %T", value)
}

// encoder writes big endian values and keeps the first error it met.
type encoder struct {
	w   io.Writer
	err error
}

func (enc *encoder) fail(err error) {
	if enc.err == nil {
		enc.err = err
	}
}

func (enc *encoder) raw(data []byte) {
	if enc.err != nil {
		return
	}
	_, err := enc.w.Write(data)
	enc.fail(err)
}

func (enc *encoder) i32(v int32) {
	if enc.err != nil {
		return
	}
	enc.fail(binary.Write(enc.w, binary.BigEndian, v))
}

func (enc *encoder) i64(v int64) {
	if enc.err != nil {
		return
	}
	enc.fail(binary.Write(enc.w, binary.BigEndian, v))
}

func (enc *encoder) name(name string) {
	enc.i32(int32(len(name)))
	enc.raw([]byte(name))
	enc.pad(len(name))
}

// pad writes the zero bytes needed to bring a block of `n` bytes to a 4 byte
// boundary.
func (enc *encoder) pad(n int) {
	if diff := pad4(n) - n; diff > 0 {
		enc.raw(make([]byte, diff))
	}
}

func (enc *encoder) values(value any) {
	if enc.err != nil {
		return
	}

	switch v := value.(type) {
	case nil:
		// variable without data, nothing to write
	case string:
		enc.raw([]byte(v))
	case []byte:
		enc.raw(v)
	default:
		enc.fail(binary.Write(enc.w, binary.BigEndian, v))
	}
}
