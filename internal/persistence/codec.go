package persistence

import (
	"bytes"
	"encoding/gob"
	"errors"

	"github.com/petrijr/taskrun/pkg/api"
)

// EncodeRecord gob-encodes a task record, including its error history.
func EncodeRecord(rec *api.TaskRecord) ([]byte, error) {
	if rec == nil {
		return nil, errors.New("persistence: nil task record")
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeRecord gob-decodes a task record. Empty input means the record
// does not exist.
func DecodeRecord(data []byte) (*api.TaskRecord, error) {
	if len(data) == 0 {
		return nil, api.ErrTaskNotFound
	}
	var rec api.TaskRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
