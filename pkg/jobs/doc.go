// Package jobs runs the periodic maintenance tasks of the service on a cron
// schedule: pruning the processed webhook event ledger and publishing
// database pool gauges.
package jobs
