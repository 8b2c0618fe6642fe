// Package store groups optional persistence backends that mirror extracted
// listings outside the JSON-lines feed.
package store
