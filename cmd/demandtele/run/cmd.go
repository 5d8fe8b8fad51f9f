// Headless telemetry client, notices go to log.
package run

import (
	"context"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/demandtele/cmd/demandtele/subcmd"
	"github.com/temoto/demandtele/state"
	"github.com/temoto/demandtele/tele"
)

var Mod = subcmd.Mod{Name: "run", Usage: "connect and log telemetry notices until SIGINT/SIGTERM", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	client, err := subcmd.InitTele(ctx, config, tele.LogSink(g.Log))
	if err != nil {
		return err
	}
	if err = client.Start(); err != nil {
		_ = client.Close()
		return errors.Annotate(err, "tele start")
	}

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("running data=%s log=%s", config.Tele.Data.URL, config.Tele.Log.URL)

	subcmd.WaitStop(ctx)
	subcmd.SdNotify(daemon.SdNotifyStopping)
	stat := client.Stat()
	g.Log.Infof("stopping frames=%d events=%d resets=%d", stat.DataFrames, stat.LogEvents, stat.SeriesResets)
	return client.Close()
}
