// Package config provides 12-factor configuration management for the
// qrexec-proxy session driver.
//
// Configuration is two-tier. The outer tier is ambient process settings —
// where diagnostics go, where the chain-config file lives — loaded from
// environment variables with sensible defaults, exactly as a 12-factor
// service should read its own bootstrap knobs. The inner tier is the
// per-invocation chain configuration: the named filter chains and their
// plugin-specific settings, read from the JSON file the ambient settings
// point at.
//
// Example Usage:
//
//	ambient := config.LoadOrDefault()
//	chains, err := config.LoadChains(ambient.Chains.Path)
//
// Environment Variables:
//   - QREXEC_PROXY_CONFIG: path to the chain configuration JSON file
//   - LOG_LEVEL, LOG_DEV: diagnostic sink settings
package config
