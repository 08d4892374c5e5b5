package storage

import (
	"encoding/json"

	"github.com/cpgraph/engine/internal/model"
)

func encodeManifest(m model.Manifest) string {
	if m.Name == "" && m.Type == "" && len(m.Children) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeManifest(raw string) model.Manifest {
	if raw == "" {
		return model.Manifest{}
	}
	var m model.Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return model.Manifest{}
	}
	return m
}
