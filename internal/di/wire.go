//go:build wireinject
// +build wireinject

package di

import (
	"LighthouseMacro/pkg/config"
	"LighthouseMacro/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideCredentials,
		ProvideRecorder,
		ProvideMetrics,

		// Infrastructure
		ProvideRawStore,
		ProvideCache,
		ProvideSinks,
		ProvidePublisher,
		ProvidePush,

		// Sources and use cases
		ProvideRegistry,
		ProvideOrchestrator,
		ProvideRunContext,
		ProvideDriver,

		// Application
		ProvideApp,
	)
	return &server.App{}, nil, nil
}
