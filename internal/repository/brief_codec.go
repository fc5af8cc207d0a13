package repository

import (
	"encoding/json"

	"support-agent/internal/domain"
)

func encodeBrief(b domain.Brief) (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeBrief(raw string) (domain.Brief, error) {
	var b domain.Brief
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return domain.Brief{}, err
	}
	return b, nil
}
