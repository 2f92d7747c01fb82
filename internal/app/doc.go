// Package app composes the EcoSort service: it wires configuration, stores,
// model clients, and background services into a running Application.
//
// # Architecture Role
//
// The app package sits above the domain and service layers and owns wiring
// and lifecycle only. Business logic lives in the services packages; app
// decides which concrete pieces run and in what order they start and stop.
//
//	internal/app/
//	├── application.go      # Application struct, wiring, lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── guide/          # Disposal guides and request metadata
//	│   └── advice/         # Advice records and model verdicts
//	├── services/
//	│   ├── guides/         # Guide corpus import, lookup, reload
//	│   └── advisor/        # Image and description advice pipeline
//	├── storage/            # Store interfaces, memory and postgres backends
//	├── httpapi/            # HTTP handlers, routing, admin surface
//	├── activity/           # Websocket activity hub
//	├── uploads/            # Temporary upload spool and sweeper
//	├── system/             # Background service lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Lifecycle
//
// New builds the object graph from config; optional pieces (vision model,
// text model, postgres, redis) degrade to warnings when unconfigured so a
// bare container still boots. Start imports the guide corpus and launches
// the registered background services; Stop shuts them down in reverse
// registration order.
package app
