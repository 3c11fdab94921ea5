package domain

import (
	"fmt"
	"strings"
)

// Field value choices for categorical filters, used both for validation and
// for generating parameter help text.
var (
	ImageCategories = []string{"digitized_artwork", "illustration", "photograph"}
	AudioCategories = []string{"audiobook", "music", "news", "podcast", "sound_effect"}
	AspectRatios    = []string{"square", "tall", "wide"}
	ImageSizes      = []string{"large", "medium", "small"}
	AudioLengths    = []string{"long", "medium", "short", "shortest"}
	LicenseTypes    = []string{"all", "all-cc", "commercial", "modification"}
)

// SearchRequest is a normalized ranked-search request. Multi-valued filter
// parameters are comma separated, mirroring the public query string API.
type SearchRequest struct {
	MediaType MediaType `json:"-"`

	Query   string `json:"q,omitempty" form:"q"`
	Creator string `json:"creator,omitempty" form:"creator"`
	Title   string `json:"title,omitempty" form:"title"`
	Tags    string `json:"tags,omitempty" form:"tags"`

	License        string `json:"license,omitempty" form:"license"`
	LicenseType    string `json:"license_type,omitempty" form:"license_type"`
	Categories     string `json:"categories,omitempty" form:"categories"`
	Extension      string `json:"extension,omitempty" form:"extension"`
	AspectRatio    string `json:"aspect_ratio,omitempty" form:"aspect_ratio"`
	Size           string `json:"size,omitempty" form:"size"`
	Length         string `json:"length,omitempty" form:"length"`
	Genres         string `json:"genres,omitempty" form:"genres"`
	Source         string `json:"source,omitempty" form:"source"`
	ExcludedSource string `json:"excluded_source,omitempty" form:"excluded_source"`

	Mature     bool `json:"mature,omitempty" form:"mature"`
	FilterDead bool `json:"filter_dead,omitempty" form:"filter_dead"`

	Page     int `json:"page,omitempty" form:"page"`
	PageSize int `json:"page_size,omitempty" form:"page_size"`
}

// FieldError is a field-level input validation error, surfaced to the caller
// as a 400 response.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate normalizes the request in place and rejects invalid input before
// any engine call is made.
func (req *SearchRequest) Validate(defaultPageSize, maxPageSize int) error {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		return &FieldError{
			Field:   "page_size",
			Message: fmt.Sprintf("page size exceeds maximum of %d", maxPageSize),
		}
	}

	if req.Source != "" && req.ExcludedSource != "" {
		return &FieldError{
			Field:   "excluded_source",
			Message: "source and excluded_source cannot both be set",
		}
	}

	if err := validateChoices("categories", req.Categories, categoriesFor(req.MediaType)); err != nil {
		return err
	}
	if err := validateChoices("license_type", req.LicenseType, LicenseTypes); err != nil {
		return err
	}
	if req.MediaType == MediaImage {
		if err := validateChoices("aspect_ratio", req.AspectRatio, AspectRatios); err != nil {
			return err
		}
		if err := validateChoices("size", req.Size, ImageSizes); err != nil {
			return err
		}
	}
	if req.MediaType == MediaAudio {
		if err := validateChoices("length", req.Length, AudioLengths); err != nil {
			return err
		}
	}
	return nil
}

func categoriesFor(mt MediaType) []string {
	if mt == MediaAudio {
		return AudioCategories
	}
	return ImageCategories
}

func validateChoices(field, value string, choices []string) error {
	if value == "" {
		return nil
	}
	for _, v := range strings.Split(value, ",") {
		if !contains(choices, v) {
			return &FieldError{
				Field:   field,
				Message: fmt.Sprintf("invalid value %q; %s", v, MakeCommaSeparatedHelpText(choices, field)),
			}
		}
	}
	return nil
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}

// SearchResponse is a ranked, paginated, dead-link-filtered result page.
type SearchResponse struct {
	ResultCount int64 `json:"result_count"`
	PageCount   int   `json:"page_count"`
	Page        int   `json:"page"`
	PageSize    int   `json:"page_size"`
	Results     []Hit `json:"results"`
}

// RelatedResponse is a fixed-size page of similar media.
type RelatedResponse struct {
	ResultCount int64 `json:"result_count"`
	Results     []Hit `json:"results"`
}
