// Package config loads and validates Sentinel Core configuration.
//
// Loading order is built-in defaults, then the YAML file, then SENTINEL_*
// environment variables (SENTINEL_DATABASE_PATH, SENTINEL_MQTT_HOST, ...).
// Secrets such as SENTINEL_MQTT_PASSWORD and SENTINEL_INFLUXDB_TOKEN belong
// in the environment rather than the file.
//
//	cfg, err := config.Load("configs/sentinel.yaml")
//	if err != nil {
//	    return err
//	}
package config
