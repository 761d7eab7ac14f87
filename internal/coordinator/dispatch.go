package coordinator

import (
	"context"
	"errors"

	"gradebot/internal/events"
	"gradebot/internal/grades"
	"gradebot/internal/notifier"
	"gradebot/internal/storage"
	"gradebot/internal/tracker"
	kit "gradebot/internal/transport"
	logx "gradebot/pkg/logx"
)

// handleEvent applies one change event. Only store connection failures are returned.
func (c *Coordinator) handleEvent(ctx context.Context, e events.Event) error {
	src := events.SourceOf(e)
	log := c.log.With(logx.String("event", e.Type()), logx.String("user", src.Username), logx.String("channel", src.Channel))
	c.metrics.Event(e.Type())

	if ls, ok := e.(events.LoginStatus); ok && c.superseded(ls.Source) {
		log.Info("login status from a replaced session ignored", logx.String("session", src.Session), logx.String("status", string(ls.Status)))
		return nil
	}

	to, err := kit.ParseChannel(src.Channel)
	if err != nil {
		log.Warn("event has bad channel", logx.Err(err))
		return nil
	}
	uid, err := c.store.UserID(ctx, src.Username, src.Channel)
	if errors.Is(err, storage.ErrNotFound) {
		// Unregistered (or rejected) while the event was in flight.
		log.Debug("event for unknown user ignored")
		return nil
	}
	if err != nil {
		log.Error("user lookup failed", logx.Err(err))
		return fatal(err)
	}

	switch ev := e.(type) {
	case events.LoginStatus:
		return c.onLoginStatus(ctx, log, to, uid, ev)
	case events.NewGrade:
		if err := c.upsert(ctx, uid, ev.Record, true); err != nil {
			log.Error("store new grade failed", logx.Err(err))
			return fatal(err)
		}
		c.replyHTML(ctx, to, grades.NewGradeMessage(ev.Record))
	case events.GradeUpdate:
		if err := c.upsert(ctx, uid, ev.Record, false); err != nil {
			log.Error("store grade update failed", logx.Err(err))
			return fatal(err)
		}
		c.replyHTML(ctx, to, grades.UpdatedGradeMessage(ev.Record))
	case events.PollAdvisory:
		log.Warn("poller advisory", logx.Int("failures", ev.Failures), logx.String("err", ev.Err))
		c.send(ctx, to, msgAdvisory(src.Username, ev.Failures), nil, notifier.PriorityWarning)
	default:
		log.Warn("unhandled event type")
	}
	return nil
}

// superseded reports whether src came from a session that is no longer the
// tracker's latest for that user.
func (c *Coordinator) superseded(src events.Source) bool {
	if src.Session == "" {
		return false
	}
	cur, ok := c.tracker.Current(tracker.Key{Username: src.Username, Channel: src.Channel})
	return !ok || cur != src.Session
}

func (c *Coordinator) onLoginStatus(ctx context.Context, log logx.Logger, to kit.ChatTarget, uid int64, ev events.LoginStatus) error {
	key := tracker.Key{Username: ev.Username, Channel: ev.Channel}
	delete(c.pending, key)
	if ev.Status.OK() {
		log.Info("registration confirmed")
		c.reply(ctx, to, msgRegistered)
		return nil
	}

	log.Info("registration failed", logx.String("status", string(ev.Status)))
	c.reply(ctx, to, msgRegistrationError(string(ev.Status)))
	c.tracker.Stop(key)
	if err := c.store.DeleteUser(ctx, uid); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error("delete user failed", logx.Err(err))
		return fatal(err)
	}
	return nil
}

// upsert writes r for uid. A new record that already has a row (a replaced
// session re-reporting it) is updated instead; an update without a row is inserted.
func (c *Coordinator) upsert(ctx context.Context, uid int64, r grades.Record, isNew bool) error {
	if isNew {
		err := c.store.InsertGrade(ctx, uid, r)
		if !errors.Is(err, storage.ErrConstraint) {
			return err
		}
		return c.store.UpdateGrade(ctx, uid, r)
	}
	err := c.store.UpdateGrade(ctx, uid, r)
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return c.store.InsertGrade(ctx, uid, r)
}
