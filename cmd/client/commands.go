package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"

	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/nation/model"
	"nationcraft.ai/internal/sim/replica"
)

var errUsage = errors.New("usage")

// command is either a local read against the replica or a request for the server.
type command struct {
	local func(out io.Writer) error
	req   *protocol.Request
}

const helpText = `commands:
  list                      all nations
  info [name]               your nation, or the named one
  create <name> [color]     found a nation (default color blue)
  leave | disband
  invite|kick|promote|demote <player-id>
  ally|war|neutral <nation>
  accept <nation>           join a nation that invited you
  quit`

// parse turns one input line into a command. A leading "/nation" is optional.
func parse(line string, rep *replica.Replica, self uuid.UUID) (command, error) {
	f := strings.Fields(line)
	if len(f) > 0 && (f[0] == "/nation" || f[0] == "nation") {
		f = f[1:]
	}
	if len(f) == 0 {
		return command{}, errUsage
	}
	sub, args := strings.ToLower(f[0]), f[1:]

	switch sub {
	case "help":
		return command{local: func(out io.Writer) error {
			_, err := fmt.Fprintln(out, helpText)
			return err
		}}, nil

	case "list":
		return command{local: func(out io.Writer) error { return renderList(out, rep) }}, nil

	case "info":
		var (
			n  protocol.NationState
			ok bool
		)
		if len(args) == 0 {
			if n, ok = rep.ByMember(self); !ok {
				return command{}, errors.New("you are not in a nation")
			}
		} else {
			name := strings.Join(args, " ")
			if n, ok = rep.ByName(name); !ok {
				return command{}, fmt.Errorf("nation not found: %s", name)
			}
		}
		return command{local: func(out io.Writer) error { return renderInfo(out, rep, n) }}, nil

	case "create":
		if len(args) == 0 {
			return command{}, fmt.Errorf("%w: create <name> [color]", errUsage)
		}
		color := model.ColorBlue
		if len(args) > 1 {
			if c, ok := model.ParseColor(args[len(args)-1]); ok {
				color = c
				args = args[:len(args)-1]
			}
		}
		return request(protocol.Request{Op: protocol.OpCreate, Name: strings.Join(args, " "), Color: color}), nil

	case "leave":
		return request(protocol.Request{Op: protocol.OpLeave}), nil

	case "disband":
		return request(protocol.Request{Op: protocol.OpDisband}), nil

	case "invite", "kick", "promote", "demote":
		if len(args) != 1 {
			return command{}, fmt.Errorf("%w: %s <player-id>", errUsage, sub)
		}
		target, err := uuid.Parse(args[0])
		if err != nil {
			return command{}, fmt.Errorf("bad player id %q", args[0])
		}
		op := map[string]protocol.Op{
			"invite":  protocol.OpInvite,
			"kick":    protocol.OpKick,
			"promote": protocol.OpPromote,
			"demote":  protocol.OpDemote,
		}[sub]
		return request(protocol.Request{Op: op, Target: target}), nil

	case "ally", "war", "neutral":
		n, err := nationArg(rep, sub, args)
		if err != nil {
			return command{}, err
		}
		state := map[string]model.Diplomacy{"ally": model.Allied, "war": model.AtWar, "neutral": model.Neutral}[sub]
		return request(protocol.Request{Op: protocol.OpSetDiplomacy, Nation: n.ID, State: state}), nil

	case "accept":
		n, err := nationArg(rep, sub, args)
		if err != nil {
			return command{}, err
		}
		return request(protocol.Request{Op: protocol.OpJoin, Nation: n.ID}), nil
	}
	return command{}, fmt.Errorf("unknown command %q (try help)", sub)
}

func request(r protocol.Request) command { return command{req: &r} }

func nationArg(rep *replica.Replica, sub string, args []string) (protocol.NationState, error) {
	if len(args) == 0 {
		return protocol.NationState{}, fmt.Errorf("%w: %s <nation>", errUsage, sub)
	}
	name := strings.Join(args, " ")
	n, ok := rep.ByName(name)
	if !ok {
		return protocol.NationState{}, fmt.Errorf("nation not found: %s", name)
	}
	return n, nil
}

func renderList(out io.Writer, rep *replica.Replica) error {
	nations := rep.ListNations()
	if len(nations) == 0 {
		_, err := fmt.Fprintln(out, "No nations exist yet.")
		return err
	}
	sort.Slice(nations, func(i, j int) bool { return strings.ToLower(nations[i].Name) < strings.ToLower(nations[j].Name) })
	fmt.Fprintln(out, "=== Nations ===")
	for _, n := range nations {
		fmt.Fprintf(out, "  %s [%s] %d member(s)\n", n.Name, n.Color, len(n.Members))
	}
	return nil
}

func renderInfo(out io.Writer, rep *replica.Replica, n protocol.NationState) error {
	fmt.Fprintf(out, "=== %s ===\n", n.Name)
	if n.Description != "" {
		fmt.Fprintln(out, n.Description)
	}
	fmt.Fprintf(out, "Color: %s\nMembers: %d\n", n.Color, len(n.Members))
	members := append([]model.Member(nil), n.Members...)
	sort.SliceStable(members, func(i, j int) bool { return members[i].Rank < members[j].Rank })
	for _, m := range members {
		fmt.Fprintf(out, "  [%s] %s\n", m.Rank, m.ID)
	}
	if len(n.Diplomacy) > 0 {
		fmt.Fprintln(out, "Diplomacy:")
		for _, r := range n.Diplomacy {
			other := r.Nation.String()
			if o, ok := rep.Get(r.Nation); ok {
				other = o.Name
			}
			fmt.Fprintf(out, "  %s: %s\n", other, r.State)
		}
	}
	if len(n.Invites) > 0 {
		fmt.Fprintf(out, "Pending invites: %d\n", len(n.Invites))
	}
	return nil
}
