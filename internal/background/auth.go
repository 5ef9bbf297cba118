package background

import (
	"context"

	"github.com/runnerr0/procedura/internal/protocol"
)

func (d *Dispatcher) getUser(ctx context.Context) protocol.Response {
	if d.deps.Auth == nil {
		return protocol.Fail("Remote not configured")
	}
	user, err := d.deps.Auth.CurrentUser(ctx)
	if err != nil {
		return protocol.Fail("%s", err.Error())
	}
	if user == nil {
		return protocol.OK(map[string]any{"user": nil})
	}
	return protocol.OK(map[string]any{"user": user})
}

func (d *Dispatcher) signIn(ctx context.Context, p *protocol.Payload) protocol.Response {
	if d.deps.Auth == nil {
		return protocol.Fail("Remote not configured")
	}
	if p == nil || p.Email == "" || p.Password == "" {
		return protocol.Fail("Missing email or password")
	}
	session, err := d.deps.Auth.SignIn(ctx, p.Email, p.Password)
	if err != nil {
		return protocol.Fail("%s", err.Error())
	}
	d.audit(ctx, "auth.sign_in", session.Email, session.UserID)
	// processing the queue needs a user; retry what piled up while signed out
	d.background.Add(1)
	go func() {
		defer d.background.Done()
		d.deps.Sync.ProcessQueue(context.WithoutCancel(ctx))
	}()
	return protocol.OK(map[string]any{"userId": session.UserID, "email": session.Email})
}

func (d *Dispatcher) signOut(ctx context.Context) protocol.Response {
	if d.deps.Auth == nil {
		return protocol.Fail("Remote not configured")
	}
	if err := d.deps.Auth.SignOut(ctx); err != nil {
		return protocol.Fail("%s", err.Error())
	}
	d.audit(ctx, "auth.sign_out", "", "")
	return protocol.OK(nil)
}
