// Package netcdf implements reading and writing of NetCDF classic files
// (CDF-1 and CDF-2). This covers the format ERA5 images are distributed in
// and the format time series files are written as; netCDF-4/HDF5 based files
// are out of scope.
package netcdf

import (
	"fmt"
	"math"
)

// Type is a NetCDF external data type.
type Type int32

const (
	Byte   Type = 1
	Char   Type = 2
	Short  Type = 3
	Int    Type = 4
	Float  Type = 5
	Double Type = 6
)

func (t Type) size() int {
	switch t {
	case Byte, Char:
		return 1
	case Short:
		return 2
	case Int, Float:
		return 4
	case Double:
		return 8
	}
	return 0
}

// Dim is a dimension. A length of zero marks the record dimension; a file
// may have at most one.
type Dim struct {
	Name string
	Len  int
}

// Attr is a global or per-variable attribute. Supported value types are
// string, []byte, []int16, []int32, []float32 and []float64.
type Attr struct {
	Name  string
	Value any
}

// Var is one variable together with its data. Data is stored flat in row
// major order; for record variables all records are concatenated. Supported
// slice types mirror the attribute value types.
type Var struct {
	Name  string
	Type  Type
	Dims  []int // indices into File.Dims
	Attrs []Attr
	Data  any
}

// File is a fully materialized NetCDF dataset.
type File struct {
	Version int // 1 or 2, selects 32 or 64 bit data offsets
	Dims    []Dim
	Attrs   []Attr
	Vars    []Var
	NumRecs int
}

// Dim finds a dimension by name.
func (f *File) Dim(name string) (Dim, bool) {
	for _, dim := range f.Dims {
		if dim.Name == name {
			return dim, true
		}
	}
	return Dim{}, false
}

// Var finds a variable by name.
func (f *File) Var(name string) (*Var, bool) {
	for i := range f.Vars {
		if f.Vars[i].Name == name {
			return &f.Vars[i], true
		}
	}
	return nil, false
}

// FindAttr finds an attribute by name in given list.
func FindAttr(attrs []Attr, name string) (Attr, bool) {
	for _, attr := range attrs {
		if attr.Name == name {
			return attr, true
		}
	}
	return Attr{}, false
}

// AttrString returns the value of a char attribute, or empty string.
func AttrString(attrs []Attr, name string) string {
	attr, ok := FindAttr(attrs, name)
	if !ok {
		return ""
	}
	s, _ := attr.Value.(string)
	return s
}

func attrNumber(attrs []Attr, name string) (float64, bool) {
	attr, ok := FindAttr(attrs, name)
	if !ok {
		return 0, false
	}

	switch v := attr.Value.(type) {
	case []int16:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []int32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	case []byte:
		if len(v) > 0 {
			return float64(int8(v[0])), true
		}
	}

	return 0, false
}

// Values returns variable data as float64, with scale_factor and add_offset
// applied and fill/missing values replaced by NaN. ERA5 NetCDF downloads
// store fields as packed shorts, so unpacking here keeps every caller from
// repeating it.
func (v *Var) Values() ([]float64, error) {
	var raw []float64

	switch data := v.Data.(type) {
	case []int16:
		raw = make([]float64, len(data))
		for i, value := range data {
			raw[i] = float64(value)
		}
	case []int32:
		raw = make([]float64, len(data))
		for i, value := range data {
			raw[i] = float64(value)
		}
	case []float32:
		raw = make([]float64, len(data))
		for i, value := range data {
			raw[i] = float64(value)
		}
	case []float64:
		raw = append(raw, data...)
	case []byte:
		raw = make([]float64, len(data))
		for i, value := range data {
			raw[i] = float64(int8(value))
		}
	default:
		return nil, fmt.Errorf("variable %s holds no numeric data", v.Name)
	}

	fill, hasFill := attrNumber(v.Attrs, "_FillValue")
	missing, hasMissing := attrNumber(v.Attrs, "missing_value")

	scale, hasScale := attrNumber(v.Attrs, "scale_factor")
	offset, hasOffset := attrNumber(v.Attrs, "add_offset")
	if !hasScale {
		scale = 1
	}
	if !hasOffset {
		offset = 0
	}

	for i, value := range raw {
		if (hasFill && value == fill) || (hasMissing && value == missing) {
			raw[i] = math.NaN()
			continue
		}
		if hasScale || hasOffset {
			raw[i] = value*scale + offset
		}
	}

	return raw, nil
}

// isRecord reports whether the variable uses the record dimension.
func (f *File) isRecord(v *Var) bool {
	if len(v.Dims) == 0 {
		return false
	}
	return f.Dims[v.Dims[0]].Len == 0
}

// perRecordLen is the number of values a variable holds per record, or its
// total value count for fixed variables.
func (f *File) perRecordLen(v *Var) int {
	n := 1
	for i, dimIdx := range v.Dims {
		if i == 0 && f.isRecord(v) {
			continue
		}
		n *= f.Dims[dimIdx].Len
	}
	return n
}

// vsize is the byte size a variable occupies per record (record variables)
// or in total (fixed variables), rounded up to a 4 byte boundary.
func (f *File) vsize(v *Var) int {
	return pad4(f.perRecordLen(v) * v.Type.size())
}

// recSize is the byte stride between consecutive records. When a single
// record variable exists its vsize is used unpadded, as the format
// specifies.
func (f *File) recSize() int {
	var recVars []*Var
	for i := range f.Vars {
		if f.isRecord(&f.Vars[i]) {
			recVars = append(recVars, &f.Vars[i])
		}
	}

	if len(recVars) == 1 {
		return f.perRecordLen(recVars[0]) * recVars[0].Type.size()
	}

	size := 0
	for _, v := range recVars {
		size += f.vsize(v)
	}
	return size
}

func pad4(n int) int {
	return (n + 3) &^ 3
}
