package measurement

// Table is the ordered, schema-consistent form of a snapshot.
type Table struct {
	Columns []string
	Rows    [][]Value
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HeaderOnly returns a zero-row table with the canonical columns, used when
// an empty snapshot is written out.
func HeaderOnly() *Table {
	return &Table{Columns: CanonicalColumns()}
}

// Materialize converts a snapshot into a table.
//
// Every record gets record_id set to its key, replacing any field of the
// same name. Columns are the canonical columns present in the snapshot, in
// canonical order, followed by all other field names in first-seen order.
// Cells for fields a record lacks are null.
func Materialize(s *Snapshot) *Table {
	seen := make(map[string]struct{})
	var order []string
	note := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}

	cells := make([]map[string]Value, 0, len(s.Records))
	for _, rec := range s.Records {
		row := make(map[string]Value, len(rec.Fields)+1)
		for _, f := range rec.Fields {
			row[f.Name] = f.Value
			note(f.Name)
		}
		row[FieldRecordID] = String(rec.ID)
		note(FieldRecordID)
		cells = append(cells, row)
	}

	columns := OrderColumns(order)
	rows := make([][]Value, 0, len(cells))
	for _, row := range cells {
		out := make([]Value, len(columns))
		for i, col := range columns {
			out[i] = row[col]
		}
		rows = append(rows, out)
	}

	return &Table{Columns: columns, Rows: rows}
}

// OrderColumns lays out field names: canonical columns present in names
// first, in canonical order, then the rest in the order given.
func OrderColumns(names []string) []string {
	present := make(map[string]struct{}, len(names))
	for _, n := range names {
		present[n] = struct{}{}
	}

	columns := make([]string, 0, len(names))
	canonical := make(map[string]struct{}, len(canonicalColumns))
	for _, c := range canonicalColumns {
		canonical[c] = struct{}{}
		if _, ok := present[c]; ok {
			columns = append(columns, c)
		}
	}

	added := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := canonical[n]; ok {
			continue
		}
		if _, ok := added[n]; ok {
			continue
		}
		added[n] = struct{}{}
		columns = append(columns, n)
	}
	return columns
}
