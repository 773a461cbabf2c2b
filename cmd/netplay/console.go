// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/bureau-foundation/netplay/lib/geom"
	"github.com/bureau-foundation/netplay/lib/ref"
	"github.com/bureau-foundation/netplay/session"
)

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// command is one console command.
type command struct {
	name    string
	usage   string
	summary string
	run     func(c *console, ctx context.Context, args []string) error
}

// commands is the console command table, in help order. It is filled
// in by init because help reads it.
var commands []command

func init() {
	commands = []command{
		{"status", "status", "show connection state, room, and roster", (*console).status},
		{"list", "list", "list joinable sessions", (*console).list},
		{"quick", "quick", "join the first open session or create one", (*console).quick},
		{"create", "create [name]", "create and host a session", (*console).create},
		{"join", "join <code>", "join a session by room code", (*console).join},
		{"host", "host", "host a local-network session", (*console).host},
		{"join-local", "join-local <host>", "join a local-network session", (*console).joinLocal},
		{"leave", "leave", "leave the current session", (*console).leave},
		{"cancel", "cancel", "cancel a connection in progress", (*console).cancel},
		{"rename", "rename <name>", "rename the hosted session", (*console).rename},
		{"private", "private on|off", "hide or list the hosted session", (*console).private},
		{"objects", "objects", "list networked objects", (*console).objects},
		{"spawn", "spawn <kind> <x> <y> <z>", "spawn a networked object", (*console).spawn},
		{"move", "move <object> <x> <y> <z>", "take ownership of an object and move it", (*console).move},
		{"drop", "drop <object>", "drop an object into the destruction volume", (*console).drop},
		{"help", "help", "show this list", (*console).help},
		{"quit", "quit", "leave and exit", func(*console, context.Context, []string) error { return errQuit }},
	}
}

func lookupCommand(name string) (command, bool) {
	index := slices.IndexFunc(commands, func(c command) bool { return c.name == name })
	if index < 0 {
		return command{}, false
	}
	return commands[index], true
}

// console reads commands line by line and runs them against a
// participant.
type console struct {
	participant *participant
	output      io.Writer
}

// run executes commands from input until EOF, quit, or ctx ends.
func (c *console) run(ctx context.Context, input io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return
				}
				fmt.Fprintf(c.output, "error: %v\n", err)
			}
		}
	}
}

func (c *console) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := lookupCommand(fields[0])
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return cmd.run(c, ctx, fields[1:])
}

func (c *console) help(context.Context, []string) error {
	for _, cmd := range commands {
		fmt.Fprintf(c.output, "  %-28s %s\n", cmd.usage, cmd.summary)
	}
	return nil
}

func (c *console) status(ctx context.Context, _ []string) error {
	manager := c.participant.manager
	fmt.Fprintf(c.output, "state: %s  topology: %s\n", manager.State(), manager.CurrentTopology(ctx))
	if code, name := manager.Room(); name != "" {
		fmt.Fprintf(c.output, "room: %s (code %s)\n", name, code)
	}
	for _, member := range manager.Roster().Snapshot() {
		marker := ""
		if member.Local {
			marker = " (you)"
		}
		fmt.Fprintf(c.output, "  participant %s%s\n", member.ID, marker)
	}
	if occupied, cooldown, err := c.participant.world.dispenser(); err == nil {
		fmt.Fprintf(c.output, "dispenser: occupied=%v cooldown=%s\n", occupied, cooldown)
	}
	return nil
}

func (c *console) list(ctx context.Context, _ []string) error {
	listings, err := c.participant.manager.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		fmt.Fprintln(c.output, "no sessions")
		return nil
	}
	for _, listing := range listings {
		taken, capacity := listing.Descriptor.PlayerCount()
		note := ""
		if !listing.Joinable {
			note = "  [" + listing.Reason + "]"
		}
		fmt.Fprintf(c.output, "  %-6s %-24s %d/%d%s\n", listing.Descriptor.Code, listing.Descriptor.Name, taken, capacity, note)
	}
	return nil
}

func (c *console) quick(ctx context.Context, _ []string) error {
	return c.participant.manager.QuickJoin(ctx)
}

func (c *console) create(ctx context.Context, args []string) error {
	return c.participant.manager.Create(ctx, session.CreateRequest{Name: strings.Join(args, " ")})
}

func (c *console) join(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: join <code>")
	}
	return c.participant.manager.JoinByCode(ctx, args[0])
}

func (c *console) host(ctx context.Context, _ []string) error {
	return c.participant.manager.HostLocal(ctx)
}

func (c *console) joinLocal(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: join-local <host>")
	}
	return c.participant.manager.JoinLocal(ctx, args[0])
}

func (c *console) leave(ctx context.Context, _ []string) error {
	return c.participant.manager.Leave(ctx)
}

func (c *console) cancel(ctx context.Context, _ []string) error {
	return c.participant.manager.CancelMatchmaking(ctx)
}

func (c *console) rename(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: rename <name>")
	}
	c.participant.manager.UpdateName(ctx, strings.Join(args, " "))
	return nil
}

func (c *console) private(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return errors.New("usage: private on|off")
	}
	c.participant.manager.UpdatePrivacy(ctx, args[0] == "on")
	return nil
}

func (c *console) objects(context.Context, []string) error {
	objects, err := c.participant.world.objects()
	if err != nil {
		return err
	}
	for _, object := range objects {
		fmt.Fprintf(c.output, "  %s %-8s owner=%s at %s %s\n",
			object.ID, object.Kind, object.Owner, formatVec(object.Position), object.State)
	}
	return nil
}

func (c *console) spawn(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return errors.New("usage: spawn <kind> <x> <y> <z>")
	}
	at, err := parseVec(args[1:])
	if err != nil {
		return err
	}
	object, err := c.participant.world.spawn(ctx, args[0], at)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "spawned %s\n", object.ID)
	return nil
}

func (c *console) move(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return errors.New("usage: move <object> <x> <y> <z>")
	}
	id, err := ref.ParseObjectID(args[0])
	if err != nil {
		return err
	}
	to, err := parseVec(args[1:])
	if err != nil {
		return err
	}
	moved, err := c.participant.world.move(ctx, id, to)
	if err != nil {
		return err
	}
	if !moved {
		fmt.Fprintf(c.output, "%s is held or owned by someone else\n", id)
	}
	return nil
}

func (c *console) drop(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: drop <object>")
	}
	id, err := ref.ParseObjectID(args[0])
	if err != nil {
		return err
	}
	outcome, err := c.participant.world.drop(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "%s: %s\n", id, outcome)
	return nil
}

// parseVec parses three coordinates.
func parseVec(args []string) (geom.Vec3, error) {
	if len(args) != 3 {
		return geom.Vec3{}, fmt.Errorf("expected 3 coordinates, got %d", len(args))
	}
	var values [3]float64
	for i, arg := range args {
		value, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return geom.Vec3{}, fmt.Errorf("coordinate %q: %w", arg, err)
		}
		values[i] = value
	}
	return geom.Vec3{X: values[0], Y: values[1], Z: values[2]}, nil
}

func formatVec(v geom.Vec3) string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z)
}
