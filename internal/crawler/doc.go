// Package crawler defines the core types and collaborator interfaces shared
// by the traversal engine, the worker pool, the API and the storage and
// queue backends.
package crawler
