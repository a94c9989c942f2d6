// Package crawler implements the crawl engine for business directories: target
// configuration, URL normalization and domain scoping, BI-ID assignment, and the
// breadth-first Runner that feeds discovered listings to a BusinessStore.
package crawler
