package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/demandtele/cmd/demandtele/console"
	"github.com/temoto/demandtele/cmd/demandtele/run"
	"github.com/temoto/demandtele/cmd/demandtele/subcmd"
	"github.com/temoto/demandtele/log2"
	"github.com/temoto/demandtele/state"
)

var modules = []subcmd.Mod{
	run.Mod,
	console.Mod,
}

func main() {
	log := log2.NewStderr(log2.LInfo)
	log.SetFlags(log2.LInteractiveFlags)

	flagset := flag.NewFlagSet("demandtele", flag.ExitOnError)
	flagConfig := flagset.String("config", "demandtele.hcl", "")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: demandtele [-config=demandtele.hcl] command\n\nCommands:\n")
		for _, m := range modules {
			fmt.Fprintf(flagset.Output(), "  %-10s %s\n", m.Name, m.Usage)
		}
		fmt.Fprintf(flagset.Output(), "\nFlags:\n")
		flagset.PrintDefaults()
	}
	_ = flagset.Parse(os.Args[1:])

	mod, err := subcmd.Parse(flagset.Arg(0), modules)
	if err != nil {
		flagset.Usage()
		log.Fatal(err)
	}

	if subcmd.SdNotify("start") {
		// under systemd, assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	}

	ctx, g := state.NewContext(log)
	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	g.Log.Debugf("config=%+v", config)

	if err := mod.Main(ctx, config); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	g.Alive.Stop()
	log.Debugf("exit")
}
