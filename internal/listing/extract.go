package listing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	selectorID         = "#HfCodigoAviso"
	selectorImages     = "#HstrImg"
	selectorFrontImage = "#HprimeraImagen"
	selectorDetails    = "div.iconoDatos + p"
)

var (
	// ErrUnknownCategory is returned when the category label is not one of the mapped labels.
	ErrUnknownCategory = errors.New("unknown listing category")
	// ErrMissingCategory is returned when the page carries no category label at all.
	ErrMissingCategory = errors.New("missing listing category")
)

// Extract pulls a Record out of a listing page.
// Missing hidden fields yield empty values; only the category is mandatory.
func Extract(page Page) (Record, error) {
	if page.DOM == nil {
		return Record{}, fmt.Errorf("extract %s: %w", page.URL, ErrMissingCategory)
	}

	details := fixedDetails(page.DOM)
	if len(details) == 0 {
		return Record{}, fmt.Errorf("extract %s: %w", page.URL, ErrMissingCategory)
	}
	propertyType := ParsePropertyType(details[0])
	if !propertyType.Known() {
		return Record{}, fmt.Errorf("extract %s: %w %q", page.URL, ErrUnknownCategory, details[0])
	}

	url := RequoteURI(page.URL)
	return Record{
		ID:           inputValue(page.DOM, selectorID),
		FrontImg:     inputValue(page.DOM, selectorFrontImage),
		ImageURLs:    splitImages(inputValue(page.DOM, selectorImages)),
		Source:       Source,
		URL:          url,
		Link:         url,
		PropertyType: propertyType,
	}, nil
}

func inputValue(doc *goquery.Selection, selector string) string {
	value, _ := doc.Find(selector).First().Attr("value")
	return strings.TrimSpace(value)
}

func splitImages(raw string) []string {
	out := []string{}
	for _, img := range strings.Split(raw, ",") {
		if img != "" {
			out = append(out, img)
		}
	}
	return out
}

// fixedDetails returns the trimmed, non-empty direct text nodes of the
// paragraphs that follow each details icon, in document order.
func fixedDetails(doc *goquery.Selection) []string {
	var out []string
	doc.Find(selectorDetails).Each(func(_ int, p *goquery.Selection) {
		p.Contents().Each(func(_ int, node *goquery.Selection) {
			if goquery.NodeName(node) != "#text" {
				return
			}
			if text := strings.TrimSpace(node.Text()); text != "" {
				out = append(out, text)
			}
		})
	})
	return out
}
