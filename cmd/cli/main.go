// cmd/cli/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/keshon/muminst/internal/config"
	"github.com/keshon/muminst/internal/library"
	"github.com/keshon/muminst/internal/logging"
	"github.com/keshon/muminst/internal/storage"
	"github.com/keshon/muminst/pkg/cmd"
)

var errUsage = errors.New("usage")

type addCommand struct{ lib *library.Library }

func (c *addCommand) Name() string        { return "add" }
func (c *addCommand) Description() string { return "add [-tags a,b] <file> [name]: import an audio file" }
func (c *addCommand) Aliases() []string   { return []string{"import"} }

func (c *addCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	tags := fs.String("tags", "", "comma separated tags")
	if err := fs.Parse(inv.Args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}
	name := strings.Join(fs.Args()[1:], " ")
	res, err := c.lib.Import(ctx, fs.Arg(0), name, splitTags(*tags))
	if err != nil {
		return err
	}
	if res.Duplicate {
		fmt.Printf("already stored as %s (%s)\n", res.Sound.ID, res.Sound.Name)
		return nil
	}
	fmt.Printf("added %s (%s)\n", res.Sound.ID, res.Sound.Name)
	return nil
}

type listCommand struct{ store *storage.Storage }

func (c *listCommand) Name() string        { return "list" }
func (c *listCommand) Description() string { return "list: show stored sounds" }
func (c *listCommand) Aliases() []string   { return []string{"ls"} }

func (c *listCommand) Run(ctx context.Context, _ *cmd.Invocation) error {
	sounds, err := c.store.ListSoundsWithTags(ctx)
	if err != nil {
		return err
	}
	for _, s := range sounds {
		fmt.Printf("%s\t%s%s\t%s\n", s.ID, s.Name, s.DisplayExtension(), strings.Join(s.Tags, ","))
	}
	return nil
}

type tagCommand struct{ store *storage.Storage }

func (c *tagCommand) Name() string        { return "tag" }
func (c *tagCommand) Description() string { return "tag <id> <tag>...: attach tags to a sound" }

func (c *tagCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	if len(inv.Args) < 2 {
		return errUsage
	}
	snd, err := c.store.AddTags(ctx, inv.Args[0], inv.Args[1:])
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", snd.Name, strings.Join(snd.Tags, ", "))
	return nil
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func usage(reg *cmd.Registry) {
	fmt.Fprintln(os.Stderr, "usage: muminst-cli <command> [args]")
	for _, c := range reg.GetAll() {
		fmt.Fprintf(os.Stderr, "  %s\n", c.Description())
	}
}

func main() {
	logging.Setup("info")

	cfg, err := config.LoadLibrary()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.LogLevel)

	ctx := context.Background()
	store, err := storage.New(ctx, cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	reg := cmd.NewRegistry()
	reg.Register(&addCommand{lib: &library.Library{Store: store, AudioPath: cfg.AudioPath}})
	reg.Register(&listCommand{store: store})
	reg.Register(&tagCommand{store: store})

	flag.Usage = func() { usage(reg) }
	flag.Parse()
	if flag.NArg() == 0 {
		usage(reg)
		os.Exit(2)
	}

	c, ok := reg.Get(flag.Arg(0))
	if !ok {
		usage(reg)
		os.Exit(2)
	}
	inv := &cmd.Invocation{Name: c.Name(), Args: flag.Args()[1:]}
	if err := c.Run(ctx, inv); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "usage:", c.Description())
			os.Exit(2)
		}
		store.Close()
		log.Fatal().Err(err).Str("command", c.Name()).Msg("command failed")
	}
}
