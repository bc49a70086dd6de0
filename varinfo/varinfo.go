// Package varinfo carries the lookup table of ERA5 single level variables,
// mapping between CDS download names, short names as stored in data files,
// and GRIB parameter codes.
package varinfo

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

//go:embed era5_table.csv
var era5Table string

// Variable is one row of the variable table.
type Variable struct {
	DlName    string
	ShortName string
	LongName  string
	Param     int
	Default   bool
}

// Table is the full ERA5 variable table.
type Table struct {
	rows []Variable
}

// Load parses the embedded variable table.
func Load() (*Table, error) {
	reader := csv.NewReader(strings.NewReader(era5Table))

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read variable table: %s", err)
	}

	table := &Table{}
	for i, record := range records {
		if i == 0 {
			continue // header
		}
		if len(record) != 5 {
			return nil, fmt.Errorf("variable table line %d: expecting 5 columns, got %d", i+1, len(record))
		}

		param, err := strconv.Atoi(record[3])
		if err != nil {
			return nil, fmt.Errorf("variable table line %d: bad parameter code %q", i+1, record[3])
		}

		table.rows = append(table.rows, Variable{
			DlName:    record[0],
			ShortName: record[1],
			LongName:  record[2],
			Param:     param,
			Default:   record[4] == "1",
		})
	}

	return table, nil
}

// All returns every known variable.
func (t *Table) All() []Variable {
	return t.rows
}

// Defaults returns download names of all variables flagged as default. These
// are fetched when the user passes no variable list.
func (t *Table) Defaults() []string {
	var names []string
	for _, row := range t.rows {
		if row.Default {
			names = append(names, row.DlName)
		}
	}
	return names
}

// Lookup resolves a list of user supplied variable names, given either as
// download name or as short name, into table rows.
func (t *Table) Lookup(names []string) ([]Variable, error) {
	var rows []Variable
	for _, name := range names {
		row, ok := t.find(name)
		if !ok {
			return nil, fmt.Errorf("unknown variable %q, known names are: %s",
				name, strings.Join(t.knownNames(), ", "))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ByParam finds the variable carrying given GRIB parameter code.
func (t *Table) ByParam(param int) (Variable, bool) {
	for _, row := range t.rows {
		if row.Param == param {
			return row, true
		}
	}
	return Variable{}, false
}

// ByShortName finds the variable stored under given short name.
func (t *Table) ByShortName(name string) (Variable, bool) {
	for _, row := range t.rows {
		if row.ShortName == name {
			return row, true
		}
	}
	return Variable{}, false
}

func (t *Table) find(name string) (Variable, bool) {
	for _, row := range t.rows {
		if row.DlName == name || row.ShortName == name {
			return row, true
		}
	}
	return Variable{}, false
}

func (t *Table) knownNames() []string {
	var names []string
	for _, row := range t.rows {
		names = append(names, row.DlName)
	}
	return names
}
