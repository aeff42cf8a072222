package queue

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Codec turns a Job into stored bytes and back. The default JSONCodec produces
// the wire format persistent drivers rely on; swap it with UseCodec on the
// Manager if a different encoding is needed.
type Codec interface {
	Marshal(job Job) ([]byte, error)
	Unmarshal(data []byte, registry *Registry) (Job, error)
}

// JSONCodec serializes a job as a flat JSON object: the job's own exported
// fields with a "type" field carrying the registry tag alongside them.
//
//	{"type":"email.send","to":"a@b.c","subject":"hi"}
//
// On the way back the whole object, "type" included, is handed verbatim to the
// Registry factory for that tag.
type JSONCodec struct{}

// Marshal implements Codec.
func (JSONCodec) Marshal(job Job) ([]byte, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal job %s", job.Type())
	}
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, errors.Wrapf(err, "job %s must serialize to a JSON object", job.Type())
	}
	tag, err := json.Marshal(job.Type())
	if err != nil {
		return nil, err
	}
	flat["type"] = tag
	return json.Marshal(flat)
}

// Unmarshal implements Codec. It reads the "type" field and delegates the
// object to the matching Registry factory.
func (JSONCodec) Unmarshal(data []byte, registry *Registry) (Job, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.Wrapf(ErrJobDeserialization, "invalid job body: %s", err)
	}
	if probe.Type == "" {
		return nil, errors.Wrap(ErrJobDeserialization, "job body has no type tag")
	}
	return registry.Reconstruct(probe.Type, data)
}
