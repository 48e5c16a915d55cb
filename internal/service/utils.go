package service

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func marshalReasonMetadata(reason string) ([]byte, error) {
	if reason == "" {
		return nil, nil
	}
	return json.Marshal(map[string]string{"reason": reason})
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
