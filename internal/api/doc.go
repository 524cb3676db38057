// Package api exposes the marketplace REST surface: catalog browsing,
// workflow submission and inspection, ledger views, payment quotes and a
// Server-Sent Events stream of workflow lifecycle events.
package api
