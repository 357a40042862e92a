package host

import (
	"fmt"
	"sort"

	"github.com/cryguy/sqlbridge/internal/conn"
	"github.com/cryguy/sqlbridge/internal/cursor"
)

// Class names of handle objects as seen from JS.
const (
	classDatabase   = "Database"
	classConnection = "Connection"
	classCursor     = "Cursor"
	classRow        = "Row"
)

// moduleHandle is the handle JS uses for receiverless libsql.* calls.
const moduleHandle = 0

// handleTable maps integer handles to Go objects. It is only touched on
// the host goroutine.
type handleTable struct {
	next int64
	byID map[int64]any
	ids  map[any]int64
}

func newHandleTable() *handleTable {
	return &handleTable{byID: make(map[int64]any), ids: make(map[any]int64)}
}

// put returns the handle of obj, allocating one on first sight.
func (t *handleTable) put(obj any) int64 {
	if id, ok := t.ids[obj]; ok {
		return id
	}
	t.next++
	t.byID[t.next] = obj
	t.ids[obj] = t.next
	return t.next
}

func (t *handleTable) get(id int64) (any, error) {
	obj, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("invalid or closed handle %d", id)
	}
	return obj, nil
}

func (t *handleTable) drop(obj any) {
	if id, ok := t.ids[obj]; ok {
		delete(t.ids, obj)
		delete(t.byID, id)
	}
}

func (t *handleTable) class(id int64) string {
	return className(t.byID[id])
}

func (t *handleTable) len() int { return len(t.byID) }

// objects returns the live objects, newest first.
func (t *handleTable) objects() []any {
	ids := make([]int64, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = t.byID[id]
	}
	return out
}

func className(obj any) string {
	switch obj.(type) {
	case *conn.Database:
		return classDatabase
	case *conn.Conn:
		return classConnection
	case *cursor.Cursor:
		return classCursor
	case *cursor.Row:
		return classRow
	}
	return ""
}
