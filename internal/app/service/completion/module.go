package completion

import "go.uber.org/fx"

var Module = fx.Options(
	fx.Provide(NewService),
	fx.Provide(func(s *Service) Arbiter { return s }),
)
