package payplus

import "go.uber.org/fx"

// Module exposes the PayPlus gateway client via Fx.
var Module = fx.Options(
	fx.Provide(NewClient),
)
