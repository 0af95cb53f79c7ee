// Package config loads the relay configuration.
//
// A Loader starts from Default, merges each file layer on top (JSON, or YAML
// for .yaml and .yml files), then applies environment overrides. Layers are
// merged key by key, so a layer that only sets server.port leaves every other
// default in place. Duration keys accept Go duration strings:
//
//	server:
//	  port: 8000
//	  write_timeout: 10s
//	storage:
//	  backend: nats
//	  nats:
//	    url: nats://nats:4222
//	    bucket: PLY_FILES
//
// Environment overrides use the PLYRELAY_ prefix (PLYRELAY_PORT,
// PLYRELAY_STORAGE_BACKEND, PLYRELAY_NATS_URL, ...). A bare PORT variable is
// also honoured and loses to PLYRELAY_PORT when both are set.
package config
