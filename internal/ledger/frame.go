package ledger

import "context"

type frameKey struct{}

// frame marks a context as belonging to an operation in flight. Calls that
// arrive with it come from a collaborator hook and run nested inside that
// operation.
type frame struct {
	m  *Marketplace
	tx *txn
}

func withFrame(ctx context.Context, f frame) context.Context {
	return context.WithValue(ctx, frameKey{}, f)
}

// frameOf returns the in-flight frame of m carried by ctx, if any.
func (m *Marketplace) frameOf(ctx context.Context) (frame, bool) {
	f, ok := ctx.Value(frameKey{}).(frame)
	if !ok || f.m != m {
		return frame{}, false
	}
	return f, true
}
