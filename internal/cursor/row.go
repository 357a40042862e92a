package cursor

import (
	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/value"
)

// Row is one row of a Cursor, paired with the cursor's column count.
type Row struct {
	values []value.Typed
	count  int32
	cursor *Cursor
}

// ColumnCount returns the column count of the owning cursor.
func (r *Row) ColumnCount() int32 { return r.count }

// ColumnName returns the name of column i.
func (r *Row) ColumnName(i int64) (string, error) {
	if err := core.CheckIndex(i, r.count); err != nil {
		return "", err
	}
	return r.cursor.ColumnName(i)
}

// ColumnType returns the storage type of the value in column i, which may
// differ from the declared column type.
func (r *Row) ColumnType(i int64) (string, error) {
	t, err := r.typed(i)
	if err != nil {
		return "", err
	}
	return t.Kind.String(), nil
}

// Get returns column i as a host value. Blobs have no host mapping and
// fail with an UnsupportedType conversion error.
func (r *Row) Get(i int64) (value.Value, error) {
	t, err := r.typed(i)
	if err != nil {
		return value.Nil(), err
	}
	return value.FromTyped(t)
}

// Values returns the raw typed values of the row.
func (r *Row) Values() []value.Typed { return r.values }

func (r *Row) typed(i int64) (value.Typed, error) {
	if err := core.CheckIndex(i, r.count); err != nil {
		return value.Typed{}, err
	}
	if i >= int64(len(r.values)) {
		return value.Typed{}, &core.BoundsError{Kind: core.IndexOutOfRange, Index: i, Count: r.count}
	}
	return r.values[i], nil
}
