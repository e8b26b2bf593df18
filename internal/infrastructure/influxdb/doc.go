// Package influxdb records Sentinel time series in InfluxDB v2.
//
// Two measurements are written:
//
//	entity_transition  one point per accepted status change (tags kind, from, to)
//	device_exposure    periodic per-device risk, open alert and unpatched counts
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTransition(influxdb.Transition{Kind: "alert", ID: id, From: "open", To: "resolved", ...})
//
// Writes never block; batch failures are reported through SetOnError.
package influxdb
