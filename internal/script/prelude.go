package script

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cryguy/sqlbridge/internal/client"
)

// Prelude returns a script defining globalThis.databases, the named
// database configs a script can pass to libsql.open or libsql.connect.
func Prelude(databases map[string]client.Config) (string, error) {
	if len(databases) == 0 {
		return "", nil
	}
	data, err := json.Marshal(databases)
	if err != nil {
		return "", fmt.Errorf("encoding databases: %w", err)
	}
	quoted, err := json.Marshal(string(data))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("globalThis.databases = Object.freeze(JSON.parse(%s));\n", quoted), nil
}

// Names returns the database names in a stable order.
func Names(databases map[string]client.Config) []string {
	names := make([]string, 0, len(databases))
	for n := range databases {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
