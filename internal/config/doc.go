// Package config handles loading, defaulting and validating the kit
// configuration file. A single YAML document describes the modules to load,
// the database URL and the settings of the web application, the task queue
// and the monitoring dashboard. Environment variables prefixed with KIT_
// override values from the file.
package config
