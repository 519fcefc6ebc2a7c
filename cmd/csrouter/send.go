package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"cs-router/config"
	"cs-router/destination"
	"cs-router/group"
	"cs-router/router"
	"cs-router/stream"
	"cs-router/transport"
)

func send(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the YAML configuration")
	to := fs.String("to", "Client", "destination mask, e.g. DataServer|Client")
	result := fs.Bool("result", false, "print the text form of each stream's result")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mask, err := destination.ParseMask(*to)
	if err != nil {
		return err
	}

	p, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer p.close()

	r, closeGroups := clientRouter(p)
	defer closeGroups()
	defer r.Close()

	texts, err := readStreams(fs.Args(), stdin)
	if err != nil {
		return err
	}
	var errs error
	for i, text := range texts {
		if err := r.SendString(mask, text); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stream %d: %w", i, err))
		}
		if *result {
			out, err := resultString(r, p.cfg.TopologyFunc()(mask))
			if err != nil {
				return multierr.Append(errs, err)
			}
			fmt.Fprintln(stdout, out)
		}
	}
	return errs
}

// clientRouter builds the router of a client process with every reachable server role wired.
func clientRouter(p *process) (*router.Router, func()) {
	opts, closeGroups := groupTransports(p)
	r := router.New(append(opts,
		router.WithLogger(p.logger.Named("router")),
		router.WithMetrics(p.metrics),
		router.WithTopology(p.cfg.TopologyFunc()),
		router.WithReportInterpreterErrors(p.cfg.ReportInterpreterErrors))...)
	return r, closeGroups
}

// resultString returns the server result when mask reaches a server, the local one otherwise.
func resultString(r *router.Router, mask destination.Mask) (string, error) {
	if mask&^destination.Client != 0 {
		return r.StringFromServer()
	}
	return r.StringFromClient()
}

// groupTransports connects to the server roles and returns the router options installing
// them. Roles without members keep the router's default transport.
func groupTransports(p *process) ([]router.Option, func()) {
	roles := []struct {
		role        string
		group, root destination.Mask
	}{
		{config.RoleDataServer, destination.DataServer, destination.DataServerRoot},
		{config.RoleRenderServer, destination.RenderServer, destination.RenderServerRoot},
	}

	var opts []router.Option
	var groups []*group.Group
	closeAll := func() {
		for _, g := range groups {
			g.Close()
		}
	}

	for _, rr := range roles {
		if p.cfg.Groups.Transport == config.TransportNATS {
			t := transport.NewNATSTransport(p.nc, transport.Subject(rr.role), p.cfg.CodecType(), p.cfg.Groups.Timeout)
			opts = append(opts, router.WithTransport(rr.group|rr.root, t))
			continue
		}

		g := group.New(rr.role, p.registry,
			group.WithLogger(p.logger.Named("group")),
			group.WithTransportOptions(transport.Options{
				Codec:     p.cfg.CodecType(),
				Heartbeat: p.cfg.Groups.Heartbeat,
			}),
			group.WithDialRetries(p.cfg.Groups.DialAttempts, p.cfg.Groups.DialBackoff),
			group.WithTimeout(p.cfg.Groups.Timeout))
		if err := g.Connect(context.Background()); err != nil {
			p.logger.Warn("group partially connected", zap.String("role", rr.role), zap.Error(err))
		}
		if len(g.Members()) == 0 {
			g.Close()
			continue
		}
		groups = append(groups, g)
		opts = append(opts,
			router.WithTransport(rr.group, g),
			router.WithTransport(rr.root, g.Root()))
	}
	return opts, closeAll
}

// printStreams writes the textual replay of each stream.
func printStreams(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("print", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	texts, err := readStreams(fs.Args(), stdin)
	if err != nil {
		return err
	}
	for i, text := range texts {
		s := &stream.Stream{}
		if err := s.FromString(text); err != nil {
			return fmt.Errorf("stream %d: %w", i, err)
		}
		if err := s.Print(stdout); err != nil {
			return err
		}
	}
	return nil
}
