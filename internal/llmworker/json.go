package llmworker

import "encoding/json"

func marshalEvent(v any) ([]byte, error) {
	return json.Marshal(v)
}
