package ledger

import "go.uber.org/fx"

// Module exposes the gorm-backed ledger store via Fx.
var Module = fx.Options(
	fx.Provide(NewStore),
)
