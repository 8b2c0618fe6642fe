// Package listing turns a fetched gallito listing page into a normalized
// listing record.
package listing
