package tmdb

// MovieDetails is the /movie/{id} payload.
type MovieDetails struct {
	ID               int64   `json:"id"`
	IMDbID           string  `json:"imdb_id"`
	Title            string  `json:"title"`
	OriginalTitle    string  `json:"original_title"`
	OriginalLanguage string  `json:"original_language"`
	Overview         string  `json:"overview"`
	Tagline          string  `json:"tagline"`
	ReleaseDate      string  `json:"release_date"`
	Runtime          int     `json:"runtime"`
	Status           string  `json:"status"`
	Popularity       float64 `json:"popularity"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int     `json:"vote_count"`
	PosterPath       string  `json:"poster_path"`
	BackdropPath     string  `json:"backdrop_path"`
	Genres           []Genre `json:"genres"`
}

// Genre is a named genre.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Credits is the /movie/{id}/credits payload.
type Credits struct {
	ID   int64        `json:"id"`
	Cast []CastCredit `json:"cast"`
	Crew []CrewCredit `json:"crew"`
}

// CastCredit is a single billed performer.
type CastCredit struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Character   string `json:"character"`
	Order       int    `json:"order"`
	ProfilePath string `json:"profile_path"`
}

// CrewCredit is a single crew credit.
type CrewCredit struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Job         string `json:"job"`
	Department  string `json:"department"`
	ProfilePath string `json:"profile_path"`
}

// Videos is the /movie/{id}/videos payload.
type Videos struct {
	ID      int64   `json:"id"`
	Results []Video `json:"results"`
}

// Video is a single hosted video.
type Video struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Site        string `json:"site"`
	Type        string `json:"type"`
	Official    bool   `json:"official"`
	Size        int    `json:"size"`
	PublishedAt string `json:"published_at"`
}

// ReleaseDates is the /movie/{id}/release_dates payload.
type ReleaseDates struct {
	ID      int64           `json:"id"`
	Results []CountryRelease `json:"results"`
}

// CountryRelease groups release entries for one country.
type CountryRelease struct {
	ISO31661     string    `json:"iso_3166_1"`
	ReleaseDates []Release `json:"release_dates"`
}

// Release is a single dated release with its certification.
type Release struct {
	Certification string `json:"certification"`
	ReleaseDate   string `json:"release_date"`
	Type          int    `json:"type"`
}

// Images is the /movie/{id}/images payload.
type Images struct {
	ID        int64   `json:"id"`
	Backdrops []Image `json:"backdrops"`
	Posters   []Image `json:"posters"`
}

// Image is a single image file reference.
type Image struct {
	FilePath    string  `json:"file_path"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ISO6391     string  `json:"iso_639_1"`
	VoteAverage float64 `json:"vote_average"`
}

// ListResult is a single title in a paginated list.
type ListResult struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	Popularity  float64 `json:"popularity"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int     `json:"vote_count"`
	PosterPath  string  `json:"poster_path"`
}

// ListPage is one page of a paginated title list (similar, popular, ...).
type ListPage struct {
	Page         int          `json:"page"`
	Results      []ListResult `json:"results"`
	TotalPages   int          `json:"total_pages"`
	TotalResults int          `json:"total_results"`
}

// ListKind identifies a catalog list endpoint.
type ListKind string

const (
	ListPopular    ListKind = "popular"
	ListNowPlaying ListKind = "now_playing"
	ListTrending   ListKind = "trending"
)

func (k ListKind) path() string {
	switch k {
	case ListTrending:
		return "/trending/movie/week"
	default:
		return "/movie/" + string(k)
	}
}

// Certification returns the first non-empty certification released in the
// given country, preferring theatrical releases (type 3).
func (r *ReleaseDates) Certification(country string) string {
	if r == nil {
		return ""
	}
	for _, cr := range r.Results {
		if cr.ISO31661 != country {
			continue
		}
		var fallback string
		for _, rel := range cr.ReleaseDates {
			if rel.Certification == "" {
				continue
			}
			if rel.Type == 3 {
				return rel.Certification
			}
			if fallback == "" {
				fallback = rel.Certification
			}
		}
		return fallback
	}
	return ""
}
