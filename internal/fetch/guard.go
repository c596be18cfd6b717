package fetch

import (
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// panicError carries a panic out of a worker goroutine so it can be
// re-raised on the goroutine that owns the repository.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// goGuarded runs fn on g. A panic in fn is returned from g.Wait as a
// *panicError.
func goGuarded(g *errgroup.Group, fn func()) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &panicError{value: r, stack: debug.Stack()}
			}
		}()
		fn()
		return nil
	})
}

// waitGuarded waits for g and re-panics with the first worker panic.
func waitGuarded(g *errgroup.Group) {
	if err := g.Wait(); err != nil {
		panic(err)
	}
}
