// Package events turns storage notifications into pipeline calls, either from
// CloudEvents delivered over HTTP or in-process for local backends.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Cloud Storage event types delivered by Eventarc
const (
	GCSFinalizedType = "google.cloud.storage.object.v1.finalized"
	GCSDeletedType   = "google.cloud.storage.object.v1.deleted"
)

// StorageObjectData is the data payload of a storage object event
type StorageObjectData struct {
	Bucket         string            `json:"bucket"`
	Name           string            `json:"name"`
	Metageneration flexString        `json:"metageneration"`
	Size           flexInt64         `json:"size"`
	ContentType    string            `json:"contentType"`
	TimeCreated    string            `json:"timeCreated"`
	Updated        string            `json:"updated"`
	Metadata       map[string]string `json:"metadata"`
}

// FinalizeEvent converts the payload into a pipeline finalize event
func (d StorageObjectData) FinalizeEvent(id, eventType string) simpleimage.FinalizeEvent {
	return simpleimage.FinalizeEvent{
		ID:             id,
		Type:           eventType,
		Bucket:         d.Bucket,
		Name:           d.Name,
		Metageneration: string(d.Metageneration),
		Size:           int64(d.Size),
		ContentType:    d.ContentType,
		TimeCreated:    d.TimeCreated,
		Updated:        d.Updated,
		Metadata:       d.Metadata,
	}
}

// DeleteEvent converts the payload into a pipeline delete event
func (d StorageObjectData) DeleteEvent(id, eventType string) simpleimage.DeleteEvent {
	return simpleimage.DeleteEvent{
		ID:     id,
		Type:   eventType,
		Bucket: d.Bucket,
		Name:   d.Name,
	}
}

// flexInt64 accepts a JSON number or a decimal string. Cloud Storage sends
// int64 fields as strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", data, err)
	}
	*f = flexInt64(n)
	return nil
}

// flexString accepts a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
