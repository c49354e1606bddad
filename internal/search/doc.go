// Package search provides the two retrieval collaborators bots depend on:
// an HTTP grounding-search service for snippet retrieval, and a
// DuckDuckGo-backed web searcher with page fetching for the research
// pipeline. A pebble cache can wrap the web searcher so repeated scans
// of the same URL skip the network.
package search
