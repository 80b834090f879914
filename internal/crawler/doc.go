// Package crawler implements the composable scraping engine, including the
// frontier, retry policy, robots enforcement, and the orchestrator that feeds
// fetched pages through extraction and relevance filtering.
package crawler
