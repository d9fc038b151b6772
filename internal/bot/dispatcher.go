package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roostbot/roost/internal/config"
	"github.com/roostbot/roost/internal/event"
	"github.com/roostbot/roost/internal/game"
	"github.com/roostbot/roost/internal/storage"
	"github.com/roostbot/roost/internal/trigger"
	"github.com/roostbot/roost/internal/utils"
)

const helpText = "Commands: afk on|off, jump, wave, spin, goto <x y z | player>, use <x y z>, stop, uptime, status, " +
	"setip <host> [port], setversion <version|auto>, trigger add <text> -> <reply>, trigger remove <text>, " +
	"trigger list, history, reconnect, quit, help"

// Dispatcher maps a text command line from any front end (console, Discord,
// Telegram, web console, game chat) to a supervisor operation or a direct
// transport call. Unknown commands pass through verbatim as server commands.
type Dispatcher struct {
	logger *slog.Logger
	sup    *Supervisor
	cfg    *config.ProfileCfg
	store  *storage.Store
}

func NewDispatcher(logger *slog.Logger, sup *Supervisor, cfg *config.ProfileCfg, store *storage.Store) *Dispatcher {
	d := &Dispatcher{logger: logger, sup: sup, cfg: cfg, store: store}
	sup.SetCommandSink(d)
	return d
}

// Handle parses and executes one command line. The leading prefix character
// is accepted but not required, so every front end can pass lines through
// unmodified.
func (d *Dispatcher) Handle(source, line string, reply func(string)) {
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), commandPrefix()))
	if line == "" {
		return
	}

	fields := strings.Fields(line)
	command := strings.ToLower(fields[0])
	args := fields[1:]

	d.logger.Info("Command received", slog.String("source", source), slog.String("command", command))

	switch command {
	case "afk":
		d.handleAFK(args, reply)
	case "jump":
		d.handleOneShot(reply, "Jumped.", func(c game.Client) error {
			if err := c.SetControlState(game.ControlJump, true); err != nil {
				return err
			}
			time.AfterFunc(idleJumpHold, func() { _ = c.SetControlState(game.ControlJump, false) })
			return nil
		})
	case "wave":
		d.handleOneShot(reply, "Waved.", func(c game.Client) error {
			return c.SwingArm()
		})
	case "spin":
		d.handleSpin(reply)
	case "goto":
		d.handleGoto(args, reply)
	case "use":
		d.handleUse(args, reply)
	case "stop":
		if err := d.sup.StopMovement(); err != nil {
			reply("Not connected.")
			return
		}
		reply("Stopped navigation and idle behavior.")
	case "uptime":
		d.handleUptime(reply)
	case "status":
		d.handleStatus(reply)
	case "setip":
		d.handleSetIP(args, reply)
	case "setversion":
		d.handleSetVersion(args, reply)
	case "trigger":
		d.handleTrigger(args, reply)
	case "history":
		d.handleHistory(reply)
	case "help", "commands":
		reply(helpText)
	case "reconnect":
		if err := d.sup.Reconnect(); err != nil {
			reply(fmt.Sprintf("Reconnect failed: %s", err.Error()))
			return
		}
		reply("Reconnecting.")
	case "quit":
		reply("Shutting down.")
		d.sup.Quit()
	default:
		// Unknown commands are forwarded verbatim as raw server commands.
		client := d.sup.Client()
		if client == nil {
			reply("Not connected, cannot forward command.")
			return
		}
		if err := client.Command("/" + line); err != nil {
			reply(fmt.Sprintf("Command failed: %s", err.Error()))
		}
	}
}

func (d *Dispatcher) handleAFK(args []string, reply func(string)) {
	if len(args) != 1 {
		reply("Usage: afk on|off")
		return
	}
	switch strings.ToLower(args[0]) {
	case "on":
		d.sup.SetAFK(true)
		reply("AFK mode enabled.")
	case "off":
		d.sup.SetAFK(false)
		reply("AFK mode disabled.")
	default:
		reply("Usage: afk on|off")
	}
}

func (d *Dispatcher) handleOneShot(reply func(string), ack string, action func(game.Client) error) {
	client := d.sup.Client()
	if client == nil {
		reply("Not connected.")
		return
	}
	if err := action(client); err != nil {
		reply(fmt.Sprintf("Action failed: %s", err.Error()))
		return
	}
	reply(ack)
}

func (d *Dispatcher) handleSpin(reply func(string)) {
	client := d.sup.Client()
	if client == nil {
		reply("Not connected.")
		return
	}
	go func() {
		for step := 0; step < 8; step++ {
			if err := client.Look(float64(step)*45-180, 0); err != nil {
				return
			}
			utils.Sleep(120)
		}
	}()
	reply("Spinning.")
}

func (d *Dispatcher) handleGoto(args []string, reply func(string)) {
	switch len(args) {
	case 1:
		if err := d.sup.Navigate(game.Goal{Player: args[0]}); err != nil {
			reply(fmt.Sprintf("Navigation failed: %s", err.Error()))
			return
		}
		reply("Following " + args[0] + ".")
	case 3:
		coords := make([]int, 3)
		for i, a := range args {
			v, err := strconv.Atoi(a)
			if err != nil {
				reply("Usage: goto <x> <y> <z> or goto <player>")
				return
			}
			coords[i] = v
		}
		goal := game.Goal{Position: &game.Position{X: coords[0], Y: coords[1], Z: coords[2]}}
		if err := d.sup.Navigate(goal); err != nil {
			reply(fmt.Sprintf("Navigation failed: %s", err.Error()))
			return
		}
		reply(fmt.Sprintf("Navigating to %d %d %d.", coords[0], coords[1], coords[2]))
	default:
		reply("Usage: goto <x> <y> <z> or goto <player>")
	}
}

// handleUse activates the block at the given coordinates, e.g. a lever,
// button or chest next to the agent.
func (d *Dispatcher) handleUse(args []string, reply func(string)) {
	if len(args) != 3 {
		reply("Usage: use <x> <y> <z>")
		return
	}
	coords := make([]int, 3)
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			reply("Usage: use <x> <y> <z>")
			return
		}
		coords[i] = v
	}
	d.handleOneShot(reply, fmt.Sprintf("Activated block at %d %d %d.", coords[0], coords[1], coords[2]), func(c game.Client) error {
		return c.ActivateBlock(game.Position{X: coords[0], Y: coords[1], Z: coords[2]})
	})
}

func (d *Dispatcher) handleUptime(reply func(string)) {
	report := d.sup.Report()
	msg := fmt.Sprintf("Process up %s", report.ProcessUptime.Round(time.Second))
	if report.State == StatusActive {
		msg += fmt.Sprintf(", session up %s", report.SessionUptime.Round(time.Second))
	}
	if d.store != nil {
		if total, err := d.store.TotalUptime(context.Background(), d.cfg.ProfileName); err == nil && total > 0 {
			msg += fmt.Sprintf(", lifetime in-world %s", total.Round(time.Second))
		}
	}
	reply(msg + ".")
}

func (d *Dispatcher) handleStatus(reply func(string)) {
	report := d.sup.Report()
	afk := "off"
	if report.AntiAFKEnabled {
		afk = "on"
	}
	reply(fmt.Sprintf("%s: %s @ %s:%d as %s, afk %s",
		report.Profile, report.State, report.Host, report.Port, report.Username, afk))
}

func (d *Dispatcher) handleSetIP(args []string, reply func(string)) {
	if len(args) < 1 || len(args) > 2 {
		reply("Usage: setip <host> [port]")
		return
	}

	port := 25565
	if len(args) == 2 {
		p, err := strconv.Atoi(args[1])
		if err != nil || p <= 0 || p > 65535 {
			reply("Invalid port.")
			return
		}
		port = p
	}

	d.cfg.SetTarget(args[0], port)
	d.cfg.RecordAddress(args[0], port)
	if err := config.SaveProfile(d.cfg); err != nil {
		d.logger.Error("Could not persist address change", slog.Any("error", err))
		reply("Address changed but saving failed: " + err.Error())
	} else {
		reply(fmt.Sprintf("Server address set to %s:%d. Restarting.", args[0], port))
	}

	event.Send(event.AddressChanged(event.Text(d.cfg.ProfileName, fmt.Sprintf("Address changed to %s:%d", args[0], port)), args[0], port))

	if err := d.sup.Restart(); err != nil {
		reply(fmt.Sprintf("Restart failed: %s", err.Error()))
	}
}

func (d *Dispatcher) handleSetVersion(args []string, reply func(string)) {
	if len(args) != 1 {
		reply("Usage: setversion <version|auto>")
		return
	}

	d.cfg.SetProtocolVersion(args[0])
	if err := config.SaveProfile(d.cfg); err != nil {
		d.logger.Error("Could not persist version change", slog.Any("error", err))
		reply("Version changed but saving failed: " + err.Error())
	} else {
		reply("Protocol version set to " + args[0] + ". Restarting.")
	}

	if err := d.sup.Restart(); err != nil {
		reply(fmt.Sprintf("Restart failed: %s", err.Error()))
	}
}

func (d *Dispatcher) handleTrigger(args []string, reply func(string)) {
	if len(args) == 0 {
		reply("Usage: trigger add <text> -> <reply> | trigger remove <text> | trigger list")
		return
	}

	switch strings.ToLower(args[0]) {
	case "add":
		rest := strings.Join(args[1:], " ")
		parts := strings.SplitN(rest, "->", 2)
		if len(parts) != 2 {
			reply("Usage: trigger add <text> -> <reply>")
			return
		}
		trig := strings.TrimSpace(parts[0])
		resp := strings.TrimSpace(parts[1])

		updated, added := trigger.Add(d.cfg.TriggerRules(), trig, resp)
		if !added {
			reply("A rule for that trigger already exists (or the rule is empty).")
			return
		}
		d.cfg.SetTriggerRules(updated)
		if err := config.SaveProfile(d.cfg); err != nil {
			d.logger.Error("Could not persist trigger rule", slog.Any("error", err))
			reply("Rule added but saving failed: " + err.Error())
			return
		}
		reply(fmt.Sprintf("Auto-reply set for %q.", trig))
	case "remove":
		trig := strings.Join(args[1:], " ")
		updated, removed := trigger.Remove(d.cfg.TriggerRules(), trig)
		if !removed {
			reply("No rule with that trigger.")
			return
		}
		d.cfg.SetTriggerRules(updated)
		if err := config.SaveProfile(d.cfg); err != nil {
			d.logger.Error("Could not persist trigger removal", slog.Any("error", err))
			reply("Rule removed but saving failed: " + err.Error())
			return
		}
		reply(fmt.Sprintf("Removed auto-reply for %q.", strings.TrimSpace(trig)))
	case "list":
		rules := d.cfg.TriggerRules()
		if len(rules) == 0 {
			reply("No auto-replies set.")
			return
		}
		var sb strings.Builder
		sb.WriteString("Auto-replies:")
		for i, rule := range rules {
			sb.WriteString(fmt.Sprintf("\n%d. %q -> %q", i+1, rule.Trigger, rule.Reply))
		}
		reply(sb.String())
	default:
		reply("Usage: trigger add <text> -> <reply> | trigger remove <text> | trigger list")
	}
}

func (d *Dispatcher) handleHistory(reply func(string)) {
	if d.store == nil {
		reply("Session journal is disabled.")
		return
	}
	sessions, err := d.store.RecentSessions(context.Background(), d.cfg.ProfileName, 5)
	if err != nil {
		reply("Could not read session journal: " + err.Error())
		return
	}
	if len(sessions) == 0 {
		reply("No recorded sessions yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Recent sessions:")
	for _, rec := range sessions {
		line := fmt.Sprintf("\n%s %s:%d up %s", rec.StartedAt.Format("2006-01-02 15:04"), rec.Host, rec.Port, rec.Duration().Round(time.Second))
		if rec.EndReason != "" {
			line += " (" + rec.EndReason + ")"
		}
		sb.WriteString(line)
	}
	reply(sb.String())
}
