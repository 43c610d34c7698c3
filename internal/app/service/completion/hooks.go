package completion

import (
	"context"
	"fmt"

	"github.com/brightseed/checkout/pkg/logctx"

	"go.uber.org/zap"
)

// hook is a best-effort post-claim side effect. Hooks run serially; a failing
// or panicking hook is recorded and the rest still run. Nothing a hook does may
// fail the completion; the money is already captured.
type hook struct {
	name string
	run  func(ctx context.Context) error
}

type hookOutcome struct {
	Name string
	Err  error
}

func runHooks(ctx context.Context, log *zap.SugaredLogger, hooks []hook) []hookOutcome {
	outcomes := make([]hookOutcome, 0, len(hooks))
	for _, h := range hooks {
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return h.run(ctx)
		}()
		if err != nil {
			logctx.FromCtx(ctx, log).Errorw("completion_hook_failed", "hook", h.name, "error", err.Error())
		}
		outcomes = append(outcomes, hookOutcome{Name: h.name, Err: err})
	}
	return outcomes
}

func hookErrors(outcomes []hookOutcome) []string {
	var errs []string
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", o.Name, o.Err.Error()))
		}
	}
	return errs
}
