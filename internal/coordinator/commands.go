package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gradebot/internal/grades"
	"gradebot/internal/storage"
	"gradebot/internal/tracker"
	kit "gradebot/internal/transport"
	logx "gradebot/pkg/logx"
)

type command struct {
	name string
	args []string
}

// parseCommand splits text into a lowercased command name and its arguments.
// A leading "/" and a "@botname" suffix on the name are dropped.
func parseCommand(text string) (command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return command{}, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return command{name: strings.ToLower(name), args: fields[1:]}, true
}

func (c *Coordinator) handleUpdate(ctx context.Context, u kit.Update) error {
	if u.Kind != kit.UpdateMessage || u.Message == nil {
		return nil
	}
	m := u.Message
	// Credentials travel in commands; only one-to-one chats are served.
	if !m.IsPrivate {
		return nil
	}
	cmd, ok := parseCommand(m.Text)
	if !ok {
		return nil
	}
	to := kit.ChatTarget{ChatID: m.ChatID}
	channel := to.Channel()
	log := c.log.With(logx.String("cmd", cmd.name), logx.String("channel", channel))

	switch cmd.name {
	case "help", "start":
		c.metrics.Command("help")
		c.reply(ctx, to, helpText)
		return nil
	case "register":
		c.metrics.Command(cmd.name)
		return c.cmdRegister(ctx, log, to, channel, cmd.args)
	case "grades":
		c.metrics.Command(cmd.name)
		return c.cmdGrades(ctx, log, to, channel, cmd.args)
	case "unregister":
		c.metrics.Command(cmd.name)
		return c.cmdUnregister(ctx, log, to, channel, cmd.args)
	case "status":
		c.metrics.Command(cmd.name)
		return c.cmdStatus(ctx, log, to, channel)
	default:
		c.metrics.Command("unknown")
		c.reply(ctx, to, msgUnknownCommand)
		return nil
	}
}

func (c *Coordinator) cmdRegister(ctx context.Context, log logx.Logger, to kit.ChatTarget, channel string, args []string) error {
	if len(args) != 2 {
		c.reply(ctx, to, msgRegisterUsage)
		return nil
	}
	user, secret := args[0], args[1]
	key := tracker.Key{Username: user, Channel: channel}
	log = log.With(logx.String("user", user))

	uid, err := c.store.UserID(ctx, user, channel)
	switch {
	case err == nil && c.pending[key]:
		// First login still unconfirmed: check the new secret instead.
		log.Info("registration pending, checking new secret")
		c.reply(ctx, to, msgChecking)
		c.tracker.Start(key, secret, nil)
		return nil
	case err == nil:
		seed, err := c.store.Grades(ctx, uid)
		if err != nil {
			log.Error("load stored grades failed", logx.Err(err))
			return fatal(err)
		}
		log.Info("re-registering", logx.Int64("user_id", uid), logx.Int("seed", len(seed)))
		c.reply(ctx, to, msgReregistering(user, uid))
		c.tracker.Start(key, secret, seed)
		return nil
	case errors.Is(err, storage.ErrNotFound):
	default:
		log.Error("user lookup failed", logx.Err(err))
		return fatal(err)
	}

	c.reply(ctx, to, msgChecking)
	if _, err := c.store.CreateUser(ctx, user, channel); err != nil {
		if errors.Is(err, storage.ErrConstraint) {
			c.reply(ctx, to, msgAlreadyRegistered(user))
			return nil
		}
		log.Error("create user failed", logx.Err(err))
		return fatal(err)
	}
	log.Info("registering")
	c.pending[key] = true
	c.tracker.Start(key, secret, nil)
	return nil
}

func (c *Coordinator) cmdGrades(ctx context.Context, log logx.Logger, to kit.ChatTarget, channel string, args []string) error {
	switch len(args) {
	case 0:
		users, err := c.store.ListUsersByChannel(ctx, channel)
		if err != nil {
			log.Error("list users failed", logx.Err(err))
			return fatal(err)
		}
		if len(users) == 0 {
			c.reply(ctx, to, msgNoUsers)
			return nil
		}
		for _, u := range users {
			if err := c.sendGrades(ctx, log, to, u.ID, u.Username); err != nil {
				return err
			}
		}
		return nil
	case 1:
		user := args[0]
		uid, err := c.store.UserID(ctx, user, channel)
		if errors.Is(err, storage.ErrNotFound) {
			c.reply(ctx, to, msgNoSuchUser(user))
			return nil
		}
		if err != nil {
			log.Error("user lookup failed", logx.Err(err))
			return fatal(err)
		}
		return c.sendGrades(ctx, log, to, uid, user)
	default:
		c.reply(ctx, to, msgGradesUsage)
		return nil
	}
}

func (c *Coordinator) sendGrades(ctx context.Context, log logx.Logger, to kit.ChatTarget, uid int64, user string) error {
	recs, err := c.store.Grades(ctx, uid)
	if err != nil {
		log.Error("load grades failed", logx.Err(err))
		return fatal(err)
	}
	if len(recs) == 0 {
		c.reply(ctx, to, msgNoGrades(user))
		return nil
	}
	c.replyHTML(ctx, to, grades.TableMessage(user, recs))
	return nil
}

func (c *Coordinator) cmdUnregister(ctx context.Context, log logx.Logger, to kit.ChatTarget, channel string, args []string) error {
	if len(args) != 1 {
		c.reply(ctx, to, msgUnregisterUsage)
		return nil
	}
	user := args[0]
	uid, err := c.store.UserID(ctx, user, channel)
	if errors.Is(err, storage.ErrNotFound) {
		c.reply(ctx, to, msgNoSuchUser(user))
		return nil
	}
	if err != nil {
		log.Error("user lookup failed", logx.Err(err))
		return fatal(err)
	}

	key := tracker.Key{Username: user, Channel: channel}
	delete(c.pending, key)
	c.tracker.Stop(key)
	if err := c.store.DeleteUser(ctx, uid); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error("delete user failed", logx.Err(err))
		return fatal(err)
	}
	log.Info("unregistered", logx.String("user", user))
	c.reply(ctx, to, msgUnregistered(user))
	return nil
}

func (c *Coordinator) cmdStatus(ctx context.Context, log logx.Logger, to kit.ChatTarget, channel string) error {
	users, err := c.store.ListUsersByChannel(ctx, channel)
	if err != nil {
		log.Error("list users failed", logx.Err(err))
		return fatal(err)
	}
	if len(users) == 0 {
		c.reply(ctx, to, msgNoUsers)
		return nil
	}

	var b strings.Builder
	b.WriteString("Registered here:")
	for _, u := range users {
		st, live := c.tracker.State(tracker.Key{Username: u.Username, Channel: channel})
		state := "not running, register again to resume"
		if live {
			state = st.String()
		}
		fmt.Fprintf(&b, "\n%s: %s", u.Username, state)
	}
	c.reply(ctx, to, b.String())
	return nil
}
