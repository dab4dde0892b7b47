package display

import (
	"encoding/json"
)

// MarshalJSON renders v with the indentation every flowd --json surface
// uses. Kept as the single marshal point so the wire shape of command
// output changes in one place.
func MarshalJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
