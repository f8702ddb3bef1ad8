// Package products is a typed client for the remote product API: paged
// listings, CRUD, stock history, quantity updates and dashboard
// statistics. Products are validated against an embedded JSON Schema
// before they are sent.
package products
