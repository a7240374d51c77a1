// Package config provides centralized configuration management for the
// GasWarden daemon: one JSON file covering the API server, state store,
// delegation ledger backend, trigger queue, reasoning service, chain
// definitions, agent thresholds and logging.
package config
