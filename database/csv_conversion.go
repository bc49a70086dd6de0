package database

import (
	"encoding/csv"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var timeType = reflect.TypeOf(time.Time{})

// ExportCSV writes all rows of a model's table into a CSV file. Nested
// struct fields (gorm.Model) are flattened into dotted column names.
func ExportCSV(db *gorm.DB, model any, csvFilePath string) error {
	file, err := os.Create(csvFilePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file %s: %s", csvFilePath, err)
	}
	defer file.Close()

	csvWriter := csv.NewWriter(file)
	defer csvWriter.Flush()

	header := modelHeader(reflect.TypeOf(model), "")
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write header to %s: %s", csvFilePath, err)
	}

	rows, err := db.Model(model).Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := db.ScanRows(rows, model); err != nil {
			return fmt.Errorf("failed to read database row: %s", err)
		}

		line, err := modelLine(reflect.ValueOf(model), nil)
		if err != nil {
			return fmt.Errorf("failed to convert database row: %s", err)
		}

		if err := csvWriter.Write(line); err != nil {
			return fmt.Errorf("failed to write row to %s: %s", csvFilePath, err)
		}
	}

	return rows.Err()
}

// ImportCSV reads rows from a CSV file written by ExportCSV back into the
// model's table, upserting by unique columns.
func ImportCSV(db *gorm.DB, model any, csvFilePath string) error {
	file, err := os.Open(csvFilePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file %s: %s", csvFilePath, err)
	}
	defer file.Close()

	csvReader := csv.NewReader(file)

	header, err := csvReader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %s", err)
	}

	expecting := modelHeader(reflect.TypeOf(model), "")
	if len(header) != len(expecting) {
		return fmt.Errorf("CSV header has %d columns, model has %d", len(header), len(expecting))
	}
	for i := range header {
		if header[i] != expecting[i] {
			return fmt.Errorf("CSV column %d is %q, expecting %q", i+1, header[i], expecting[i])
		}
	}

	index := 2
	for {
		line, err := csvReader.Read()
		if err != nil {
			break
		}

		rest, err := setModelLine(reflect.ValueOf(model), line)
		if err != nil {
			return fmt.Errorf("failed to unmarshal line %d: %s", index, err)
		}
		if len(rest) != 0 {
			return fmt.Errorf("line %d has %d surplus columns", index, len(rest))
		}

		result := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(model)
		if result.Error != nil {
			return fmt.Errorf("failed to store line %d: %s", index, result.Error)
		}

		index++
	}

	return nil
}

// modelHeader flattens all exported leaf fields of a model type into dotted
// column names, in field order.
func modelHeader(rType reflect.Type, prefix string) []string {
	switch rType.Kind() {
	case reflect.Ptr:
		return modelHeader(rType.Elem(), prefix)
	case reflect.Struct:
		if rType == timeType {
			return []string{prefix}
		}

		var header []string
		for i := 0; i < rType.NumField(); i++ {
			field := rType.Field(i)
			if !field.IsExported() {
				continue
			}

			name := field.Name
			if prefix != "" {
				name = prefix + "." + name
			}
			header = append(header, modelHeader(field.Type, name)...)
		}
		return header
	}

	return []string{prefix}
}

func modelLine(rValue reflect.Value, line []string) ([]string, error) {
	switch rValue.Kind() {
	case reflect.Ptr:
		return modelLine(rValue.Elem(), line)
	case reflect.Struct:
		if rValue.Type() == timeType {
			return append(line, rValue.Interface().(time.Time).UTC().Format(time.RFC3339)), nil
		}

		for i := 0; i < rValue.NumField(); i++ {
			if !rValue.Type().Field(i).IsExported() {
				continue
			}

			var err error
			line, err = modelLine(rValue.Field(i), line)
			if err != nil {
				return line, err
			}
		}
		return line, nil
	case reflect.Int, reflect.Int16, reflect.Int32, reflect.Int64:
		return append(line, strconv.FormatInt(rValue.Int(), 10)), nil
	case reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return append(line, strconv.FormatUint(rValue.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return append(line, strconv.FormatFloat(rValue.Float(), 'g', -1, 64)), nil
	case reflect.Bool:
		if rValue.Bool() {
			return append(line, "1"), nil
		}
		return append(line, "0"), nil
	case reflect.String:
		return append(line, rValue.String()), nil
	}

	return line, fmt.Errorf("unhandled field type %s", rValue.Kind())
}

func setModelLine(rValue reflect.Value, line []string) ([]string, error) {
	if len(line) == 0 {
		return line, nil
	}

	switch rValue.Kind() {
	case reflect.Ptr:
		return setModelLine(rValue.Elem(), line)
	case reflect.Struct:
		if rValue.Type() == timeType {
			ts, err := time.Parse(time.RFC3339, line[0])
			if err != nil {
				return line, err
			}
			rValue.Set(reflect.ValueOf(ts))
			return line[1:], nil
		}

		for i := 0; i < rValue.NumField(); i++ {
			if !rValue.Type().Field(i).IsExported() {
				continue
			}

			var err error
			line, err = setModelLine(rValue.Field(i), line)
			if err != nil {
				return line, err
			}
		}
		return line, nil
	case reflect.Int, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := strconv.ParseInt(line[0], 10, 64)
		if err != nil {
			return line, err
		}
		rValue.SetInt(v)
		return line[1:], nil
	case reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err := strconv.ParseUint(line[0], 10, 64)
		if err != nil {
			return line, err
		}
		rValue.SetUint(v)
		return line[1:], nil
	case reflect.Float32, reflect.Float64:
		v, err := strconv.ParseFloat(line[0], 64)
		if err != nil {
			return line, err
		}
		rValue.SetFloat(v)
		return line[1:], nil
	case reflect.Bool:
		rValue.SetBool(line[0] != "0")
		return line[1:], nil
	case reflect.String:
		rValue.SetString(line[0])
		return line[1:], nil
	}

	return line, fmt.Errorf("unhandled field type %s", rValue.Kind())
}
