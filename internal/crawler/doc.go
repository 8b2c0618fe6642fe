// Package crawler drives the gallito crawl with Colly: it visits the index
// seeds, follows pagination and listing links, hands listing pages to the
// field extractor, fans records out to sinks and runs completion hooks once
// the frontier is exhausted.
package crawler
