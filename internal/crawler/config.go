package crawler

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultUserAgent is a desktop browser signature; gallito serves a reduced
// page to unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Config captures every knob that influences a crawl run.
type Config struct {
	Seeds              []string      `mapstructure:"seeds"`
	PaginationPatterns []string      `mapstructure:"pagination_patterns"`
	ListingPattern     string        `mapstructure:"listing_pattern"`
	AllowedDomains     []string      `mapstructure:"allowed_domains"`
	UserAgent          string        `mapstructure:"user_agent"`
	Parallelism        int           `mapstructure:"parallelism"`
	Delay              time.Duration `mapstructure:"delay"`
	RandomDelay        time.Duration `mapstructure:"random_delay"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RespectRobots      bool          `mapstructure:"respect_robots"`
}

// DefaultConfig returns the settings used against www.gallito.com.uy.
func DefaultConfig() Config {
	return Config{
		Seeds: []string{
			"https://www.gallito.com.uy/inmuebles/casas!cant=80",
			"https://www.gallito.com.uy/inmuebles/apartamentos!cant=80",
		},
		PaginationPatterns: []string{
			`\/inmuebles\/casas!cant=80\?pag=\d+`,
			`\/inmuebles\/apartamentos!cant=80\?pag=\d+`,
		},
		ListingPattern: `-\d{8}$`,
		AllowedDomains: []string{"www.gallito.com.uy"},
		UserAgent:      DefaultUserAgent,
		Parallelism:    8,
		RequestTimeout: 60 * time.Second,
		MaxRetries:     2,
		RespectRobots:  true,
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if len(c.Seeds) == 0 {
		return fmt.Errorf("crawler.seeds must include at least one seed URL")
	}
	if strings.TrimSpace(c.ListingPattern) == "" {
		return fmt.Errorf("crawler.listing_pattern must be set")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("crawler.parallelism must be > 0")
	}
	if c.Delay < 0 || c.RandomDelay < 0 {
		return fmt.Errorf("crawler.delay and crawler.random_delay must be >= 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if _, err := compileRules(c); err != nil {
		return err
	}
	return nil
}

// linkRules classifies discovered links. Pagination patterns are checked
// before the listing pattern.
type linkRules struct {
	pagination []*regexp.Regexp
	listing    *regexp.Regexp
}

func compileRules(c Config) (linkRules, error) {
	var rules linkRules
	for _, raw := range c.PaginationPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return linkRules{}, fmt.Errorf("crawler.pagination_patterns %q: %w", raw, err)
		}
		rules.pagination = append(rules.pagination, re)
	}
	re, err := regexp.Compile(c.ListingPattern)
	if err != nil {
		return linkRules{}, fmt.Errorf("crawler.listing_pattern %q: %w", c.ListingPattern, err)
	}
	rules.listing = re
	return rules, nil
}

func (r linkRules) isListing(u string) bool {
	return r.listing.MatchString(u)
}

func (r linkRules) isPagination(u string) bool {
	for _, re := range r.pagination {
		if re.MatchString(u) {
			return true
		}
	}
	return false
}

// follow reports whether a link should be visited.
func (r linkRules) follow(u string) bool {
	return r.isPagination(u) || r.isListing(u)
}

// kind labels a page for metrics and logs.
func (r linkRules) kind(u string) string {
	if !r.isPagination(u) && r.isListing(u) {
		return pageKindListing
	}
	return pageKindIndex
}
