// Package config provides centralized configuration management for the
// marketplace daemon: catalog sources, ledger fee policy, settlement and
// coordination endpoints, and the async submission queue, all loaded from a
// single JSON file with sensible defaults.
package config
