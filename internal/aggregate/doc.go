// Package aggregate maintains dashboard counters from entity changes.
//
// A View is a ChangeListener for both the store and a reconciliation
// engine's projection. Per-device it tracks open alerts and unpatched
// vulnerabilities; globally it keeps per-severity and per-status
// histograms of alerts created within a trailing window.
package aggregate
