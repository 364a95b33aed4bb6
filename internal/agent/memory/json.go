package memory

import (
	"encoding/json"
	"fmt"
)

// toJSONBestEffort renders v as JSON for echoing a tool observation back to
// the model; on marshal failure it falls back to fmt's default %v
// formatting rather than failing the whole serialisation.
func toJSONBestEffort(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
