package state

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/demandtele/helpers"
	"github.com/temoto/demandtele/log2"
)

// Teler is telemetry client as seen by commands, implemented in package tele.
type Teler interface {
	Start() error
	Stop() error
	ManualReconnect() error
	IsConnected() bool
	ReconnectAttempts() int
}

type Global struct {
	Alive  *alive.Alive
	Config *Config
	Log    *log2.Log
	Stores *Stores
	Tele   Teler
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	g := &Global{
		Alive:  alive.NewAlive(),
		Log:    log,
		Stores: NewStores(),
	}
	ctx := context.WithValue(context.Background(), ContextKey, g) //nolint:staticcheck
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg

	if cfg.Tele.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}
	errs := make([]error, 0, 2)
	if err := cfg.Tele.Validate(); err != nil {
		errs = append(errs, errors.Annotate(err, "config"))
	}
	if cfg.Console.WaitTimeoutMs < 0 {
		errs = append(errs, errors.NotValidf("config: console.wait_timeout_ms=%d", cfg.Console.WaitTimeoutMs))
	}
	g.Stores.Org.SetURL(cfg.Tele.Data.URL)
	return helpers.FoldErrors(errs)
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Errorf(errors.ErrorStack(err))
	}
}
