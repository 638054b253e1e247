package ratelimit

import "context"

// Limiter decides whether the caller identified by key may proceed. Keys
// take the form "actor:action".
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

func Key(actor, action string) string {
	return actor + ":" + action
}
