package intent

import "go.uber.org/fx"

var Module = fx.Options(
	fx.Provide(NewService),
	fx.Provide(func(s *Service) Orchestrator { return s }),
)
