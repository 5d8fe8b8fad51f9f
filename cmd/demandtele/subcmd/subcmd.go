// Support sub-commands in demandtele application.
// It's simple but fine so far.
package subcmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/demandtele/state"
	"github.com/temoto/demandtele/tele"
)

type Mod struct {
	Name  string
	Usage string
	Main  func(context.Context, *state.Config) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	var found *Mod
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			found = m
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown command='%s'", command)
	}
	return found, nil
}

func SdNotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}

// InitTele applies config to global state and creates telemetry client sharing global stores.
// Client is not started.
func InitTele(ctx context.Context, config *state.Config, sink tele.Sink) (*tele.Client, error) {
	g := state.GetGlobal(ctx)
	if err := g.Init(ctx, config); err != nil {
		return nil, err
	}
	client, err := tele.New(config.Tele, tele.Options{
		Stores: g.Stores,
		Sink:   sink,
		Log:    g.Log,
	})
	if err != nil {
		return nil, errors.Annotate(err, "tele init")
	}
	g.Tele = client
	return client, nil
}

// WaitStop returns on SIGINT, SIGTERM or global alive stop.
func WaitStop(ctx context.Context) os.Signal {
	g := state.GetGlobal(ctx)
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigch)
	select {
	case sig := <-sigch:
		g.Log.Infof("received signal=%v", sig)
		return sig
	case <-g.Alive.StopChan():
		return nil
	}
}
