// Package testutil provides helpers shared by package tests: an in-memory
// OpenTelemetry meter provider and counter lookups over its collected data.
package testutil
