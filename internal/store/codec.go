package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/cinecard/cinecard/internal/model"
)

// encodedMeta holds the JSON-encoded list columns of work_meta.
type encodedMeta struct {
	genres, images, cast, crew, trailers, similar []byte
}

func encodeMeta(m *model.WorkMeta) (*encodedMeta, error) {
	var e encodedMeta
	var err error
	if e.genres, err = marshalList(m.Genres, []string{}); err != nil {
		return nil, eris.Wrap(err, "store: marshal genres")
	}
	if e.images, err = json.Marshal(m.Images); err != nil {
		return nil, eris.Wrap(err, "store: marshal images")
	}
	if e.cast, err = marshalList(m.Cast, []model.CastMember{}); err != nil {
		return nil, eris.Wrap(err, "store: marshal cast")
	}
	if e.crew, err = marshalList(m.Crew, []model.CrewMember{}); err != nil {
		return nil, eris.Wrap(err, "store: marshal crew")
	}
	if e.trailers, err = marshalList(m.Trailers, []model.Trailer{}); err != nil {
		return nil, eris.Wrap(err, "store: marshal trailers")
	}
	if e.similar, err = marshalList(m.SimilarIDs, []int64{}); err != nil {
		return nil, eris.Wrap(err, "store: marshal similar ids")
	}
	return &e, nil
}

func decodeMeta(m *model.WorkMeta, genres, images, cast, crew, trailers, similar []byte) error {
	fields := []struct {
		name string
		data []byte
		dst  any
	}{
		{"genres", genres, &m.Genres},
		{"images", images, &m.Images},
		{"cast", cast, &m.Cast},
		{"crew", crew, &m.Crew},
		{"trailers", trailers, &m.Trailers},
		{"similar ids", similar, &m.SimilarIDs},
	}
	for _, f := range fields {
		if len(f.data) == 0 {
			continue
		}
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return eris.Wrapf(err, "store: unmarshal %s", f.name)
		}
	}
	return nil
}

func encodeRunLog(l *model.IngestionRunLog) ([]byte, []byte, error) {
	titles, err := marshalList(l.Titles, []model.RunTitle{})
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal run titles")
	}
	errs, err := marshalList(l.Errors, []string{})
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal run errors")
	}
	return titles, errs, nil
}

func decodeRunLog(l *model.IngestionRunLog, titles, errs []byte) error {
	if len(titles) > 0 {
		if err := json.Unmarshal(titles, &l.Titles); err != nil {
			return eris.Wrap(err, "store: unmarshal run titles")
		}
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &l.Errors); err != nil {
			return eris.Wrap(err, "store: unmarshal run errors")
		}
	}
	return nil
}

// marshalList encodes nil slices as empty JSON arrays.
func marshalList[T any](v []T, empty []T) ([]byte, error) {
	if v == nil {
		v = empty
	}
	return json.Marshal(v)
}
