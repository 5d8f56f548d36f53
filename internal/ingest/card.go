package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/cinecard/cinecard/internal/model"
)

// Card is the full display document served to readers.
type Card struct {
	SchemaVersion        int                `json:"schema_version"`
	WorkID               string             `json:"work_id"`
	ExternalID           int64              `json:"external_id"`
	Title                string             `json:"title"`
	OriginalTitle        string             `json:"original_title,omitempty"`
	Year                 int                `json:"year,omitempty"`
	ReleaseDate          string             `json:"release_date,omitempty"`
	Runtime              int                `json:"runtime,omitempty"`
	Tagline              string             `json:"tagline,omitempty"`
	Overview             string             `json:"overview,omitempty"`
	Genres               []string           `json:"genres"`
	Certification        string             `json:"certification,omitempty"`
	OriginalLanguage     string             `json:"original_language,omitempty"`
	OriginalLanguageName *string            `json:"original_language_name"`
	Logline              *string            `json:"logline"`
	Images               model.Images       `json:"images"`
	Cast                 []model.CastMember `json:"cast"`
	Crew                 []model.CrewMember `json:"crew"`
	Trailers             []model.Trailer    `json:"trailers"`
	SimilarIDs           []int64            `json:"similar_ids"`
	Rating               CardRating         `json:"rating"`
}

// CardRating is the aggregate score block of a card.
type CardRating struct {
	Score          float64               `json:"score"`
	ConfidenceLow  float64               `json:"confidence_low"`
	ConfidenceHigh float64               `json:"confidence_high"`
	Confidence     model.ConfidenceLabel `json:"confidence"`
	VoteCount      int                   `json:"vote_count"`
	Method         string                `json:"method"`
}

// ShortCard is the compact variant used in lists.
type ShortCard struct {
	SchemaVersion int      `json:"schema_version"`
	WorkID        string   `json:"work_id"`
	ExternalID    int64    `json:"external_id"`
	Title         string   `json:"title"`
	Year          int      `json:"year,omitempty"`
	Poster        string   `json:"poster,omitempty"`
	Genres        []string `json:"genres"`
	Runtime       int      `json:"runtime,omitempty"`
	Certification string   `json:"certification,omitempty"`
	Score         float64  `json:"score"`
	Confidence    string   `json:"confidence"`
	HasTrailer    *bool    `json:"has_trailer"`
	Logline       *string  `json:"logline"`
}

// cardExtras are card fields that are not part of the canonical rows.
type cardExtras struct {
	LanguageName *string
	Logline      *string
}

// buildCard assembles the full and short card documents for a work.
func buildCard(w *model.Work, m *model.WorkMeta, agg *model.Aggregate, extras cardExtras) (*model.CardCache, error) {
	genres := m.Genres
	if genres == nil {
		genres = []string{}
	}
	full := Card{
		SchemaVersion:        CurrentSchemaVersion,
		WorkID:               w.ID,
		ExternalID:           w.ExternalID,
		Title:                w.Title,
		OriginalTitle:        w.OriginalTitle,
		Year:                 w.ReleaseYear,
		ReleaseDate:          w.ReleaseDate,
		Runtime:              m.Runtime,
		Tagline:              m.Tagline,
		Overview:             m.Overview,
		Genres:               genres,
		Certification:        m.Certification,
		OriginalLanguage:     m.OriginalLanguage,
		OriginalLanguageName: extras.LanguageName,
		Logline:              extras.Logline,
		Images:               m.Images,
		Cast:                 orEmpty(m.Cast),
		Crew:                 orEmpty(m.Crew),
		Trailers:             m.Trailers,
		SimilarIDs:           orEmpty(m.SimilarIDs),
		Rating: CardRating{
			Score:          agg.Score,
			ConfidenceLow:  agg.ConfidenceLow,
			ConfidenceHigh: agg.ConfidenceHigh,
			Confidence:     agg.Confidence,
			VoteCount:      agg.VoteCount,
			Method:         agg.MethodVersion,
		},
	}
	if full.Images.Stills == nil {
		full.Images.Stills = []string{}
	}

	var hasTrailer *bool
	if m.Trailers != nil {
		v := len(m.Trailers) > 0
		hasTrailer = &v
	}
	short := ShortCard{
		SchemaVersion: CurrentSchemaVersion,
		WorkID:        w.ID,
		ExternalID:    w.ExternalID,
		Title:         w.Title,
		Year:          w.ReleaseYear,
		Poster:        m.Images.PosterSmall,
		Genres:        genres,
		Runtime:       m.Runtime,
		Certification: m.Certification,
		Score:         agg.Score,
		Confidence:    string(agg.Confidence),
		HasTrailer:    hasTrailer,
		Logline:       extras.Logline,
	}

	fullJSON, err := json.Marshal(full)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: marshal card")
	}
	shortJSON, err := json.Marshal(short)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: marshal short card")
	}
	return &model.CardCache{
		WorkID:        w.ID,
		Full:          fullJSON,
		Short:         shortJSON,
		ETag:          computeETag(fullJSON),
		SchemaVersion: CurrentSchemaVersion,
	}, nil
}

// computeETag returns the hex SHA-256 of the serialized full card.
func computeETag(full []byte) string {
	sum := sha256.Sum256(full)
	return hex.EncodeToString(sum[:])
}

func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
