package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// decodeList decodes the legacy list envelopes the backend has shipped over
// time: {"data":[...]}, {"items":[...]}, or a bare JSON array. The tolerance
// is deliberate; older backend deployments still answer with the wrapped
// shapes.
func decodeList[T any](body []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("invalid list body: %w", err)
		}
		return out, nil
	}

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("invalid envelope body: %w", err)
	}

	raw := envelope.Data
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = envelope.Items
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid envelope list: %w", err)
	}
	return out, nil
}
