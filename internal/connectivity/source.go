package connectivity

import "context"

// Source produces reachability observations. Watch calls report with the
// observed state, as often as it likes, until ctx is cancelled.
type Source interface {
	Watch(ctx context.Context, report func(online bool)) error
}

// Static is a Source that never changes. Static(false) keeps the client
// offline, which is what --offline uses.
type Static bool

// Watch reports the fixed state once and waits for ctx.
func (s Static) Watch(ctx context.Context, report func(online bool)) error {
	report(bool(s))
	<-ctx.Done()
	return nil
}
