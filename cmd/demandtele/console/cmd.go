// Interactive telemetry console: inspect stores, reconnect, wait for values.
package console

import (
	"context"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/demandtele/cmd/demandtele/subcmd"
	"github.com/temoto/demandtele/helpers"
	"github.com/temoto/demandtele/helpers/cli"
	"github.com/temoto/demandtele/state"
	"github.com/temoto/demandtele/tele"
)

const modName = "console"

var Mod = subcmd.Mod{Name: modName, Usage: "interactive prompt, see help inside", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	client, err := subcmd.InitTele(ctx, config, tele.LogSink(g.Log))
	if err != nil {
		return err
	}
	defer client.Close()
	if err = client.Start(); err != nil {
		return errors.Annotate(err, "tele start")
	}

	con := &Console{
		c:           client,
		w:           os.Stdout,
		waitTimeout: helpers.IntMillisecondDefault(config.Console.WaitTimeoutMs, 0),
	}
	tag := config.Console.Prompt
	if tag == "" {
		tag = modName
	}
	exec := func(line string) {
		if err := con.Exec(ctx, line); err != nil {
			g.Log.Error(errors.ErrorStack(err))
		}
	}
	return cli.MainLoop(tag, exec, complete)
}
