// Package crawler defines the domain model shared by the scraper subsystems:
// addresses and their lifecycle, stored pages, acquisition outcomes, and the
// collaborator interfaces (stores, acquisition channels, file persistence,
// AI screening, operator confirmation) that the triage pipeline, frontier,
// and relinker are written against.
package crawler
