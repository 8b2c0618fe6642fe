package listing

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Source identifies the site every record originates from.
const Source = "gallito"

// PropertyType is the normalized category of a listing.
type PropertyType string

// Known property types. PropertyTypeUnrecognized is returned for labels outside
// the fixed mapping and is never written to a feed.
const (
	PropertyTypeUnrecognized PropertyType = ""
	PropertyTypeHouse        PropertyType = "HOUSE"
	PropertyTypeApartment    PropertyType = "APARTMENT"
)

var propertyTypesByLabel = map[string]PropertyType{
	"casa":        PropertyTypeHouse,
	"apartamento": PropertyTypeApartment,
}

// ParsePropertyType maps a site category label to a PropertyType.
// Matching ignores case and surrounding whitespace.
func ParsePropertyType(label string) PropertyType {
	pt, ok := propertyTypesByLabel[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return PropertyTypeUnrecognized
	}
	return pt
}

// Known reports whether pt is one of the mapped property types.
func (pt PropertyType) Known() bool {
	return pt == PropertyTypeHouse || pt == PropertyTypeApartment
}

// Record is the metadata extracted from a single listing page.
type Record struct {
	ID           string       `json:"id"`
	FrontImg     string       `json:"front_img"`
	ImageURLs    []string     `json:"image_urls"`
	Source       string       `json:"source"`
	URL          string       `json:"url"`
	Link         string       `json:"link"`
	PropertyType PropertyType `json:"property_type"`
}

// Page is a fetched listing page ready for extraction.
type Page struct {
	// URL is the request URL the page was fetched from.
	URL string
	// DOM is the root of the parsed document.
	DOM *goquery.Selection
}
