// Command dupresctl is a thin operator CLI for the duplicate-resolution
// core: it can kick off a manual probe against a peer set and report
// the occupancy of an inflight table it builds itself (always empty at
// startup; it does not attach to another process's table). It carries
// no protocol logic of its own — every decision is made by
// pkg/dupres/core.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/units"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jabolina/dupres/pkg/dupres/core"
	"github.com/jabolina/dupres/pkg/dupres/definition"
	"github.com/jabolina/dupres/pkg/dupres/fabric"
	"github.com/jabolina/dupres/pkg/dupres/storage"
	"github.com/jabolina/dupres/pkg/dupres/types"
	"github.com/jabolina/dupres/pkg/dupres/wire"
)

var (
	app = kingpin.New("dupresctl", "Operator CLI for the duplicate-resolution core.")

	bufferSize = app.Flag("buffer-size", "fabric message buffer hint, e.g. 64KB").Default("64KB").String()
	self       = app.Flag("self", "node id this CLI identifies itself as").Default("dupresctl").String()
	policyFlag = app.Flag("policy", "conflict policy: generation-first or last-update-first").Default("generation-first").String()

	probeCmd    = app.Command("probe", "probe a set of peers for the best copy of a record and apply it locally")
	probeNS     = probeCmd.Arg("namespace-id", "numeric namespace id").Required().Uint32()
	probeDigest = probeCmd.Arg("digest", "hex-encoded 20-byte record digest").Required().String()
	probePeers  = probeCmd.Flag("peer", "peer node id to probe (repeatable)").Required().Strings()
	probeWait   = probeCmd.Flag("timeout", "probe deadline").Default("2s").Duration()

	statsCmd = app.Command("stats", "print inflight-table occupancy for a freshly constructed table (diagnostic only)")
)

func main() {
	kingpin.Version("dupresctl (dupres)")
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if _, err := units.ParseBase2Bytes(*bufferSize); err != nil {
		fmt.Fprintf(os.Stderr, "dupresctl: invalid --buffer-size %q: %v\n", *bufferSize, err)
		os.Exit(2)
	}

	log := definition.NewDefaultLogger()

	switch command {
	case probeCmd.FullCommand():
		runProbe(log)
	case statsCmd.FullCommand():
		runStats(log)
	}
}

// buildConfiguration seeds a types.Configuration from DefaultConfiguration
// and overlays the CLI's own flags onto it, the way a long-running node
// would build one from its own config file plus command-line overrides.
func buildConfiguration(nsID uint32, log types.Logger, store types.Storage, fab types.Fabric) *types.Configuration {
	cfg := types.DefaultConfiguration("dupresctl", types.NamespaceID(nsID))
	cfg.Policy = parsePolicy(*policyFlag)
	cfg.ProbeDeadline = *probeWait
	cfg.Logger = log
	cfg.Storage = store
	cfg.Fabric = fab
	return cfg
}

func parsePolicy(s string) types.ConflictPolicy {
	if s == "last-update-first" {
		return types.LastUpdateFirst
	}
	return types.GenerationFirst
}

// cliOrigin is the TransactionOrigin a one-shot probe presents: this
// CLI has no upstream transaction to hand a restart back to, so Restart
// just reports that a peer demanded one. A real long-running node
// would instead forward msgp into its own transaction-retry queue.
type cliOrigin struct {
	log types.Logger
}

func (o cliOrigin) Restart(msgp *types.FabricMessage) error {
	o.log.Warnf("dupresctl: peer reported a restart is required; no transaction queue to re-enqueue into")
	return nil
}

func parseDigest(hexStr string) (types.Digest, error) {
	var d types.Digest
	if len(hexStr) != types.DigestSize*2 {
		return d, fmt.Errorf("digest must be %d hex characters, got %d", types.DigestSize*2, len(hexStr))
	}
	for i := 0; i < types.DigestSize; i++ {
		var b byte
		if _, err := fmt.Sscanf(hexStr[i*2:i*2+2], "%02x", &b); err != nil {
			return d, fmt.Errorf("invalid hex digest: %w", err)
		}
		d[i] = b
	}
	return d, nil
}

func runProbe(log types.Logger) {
	digest, err := parseDigest(*probeDigest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dupresctl: %v\n", err)
		os.Exit(2)
	}

	key := types.RecordKey{NamespaceID: types.NamespaceID(*probeNS), Digest: digest}
	peers := make([]types.NodeID, 0, len(*probePeers))
	for _, p := range *probePeers {
		peers = append(peers, types.NodeID(p))
	}

	fab, err := fabric.NewReltFabric(types.NodeID(*self), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dupresctl: failed to start fabric: %v\n", err)
		os.Exit(1)
	}
	defer fab.Close()

	store := storage.NewMemory(log)
	cfg := buildConfiguration(*probeNS, log, store, fab)

	table := core.NewInflightTable()
	orig := core.NewOriginator(table, cfg.Fabric, cfg.Storage, cfg.Logger, core.NewInvoker(), nil)
	if negotiator, nerr := wire.NewNegotiator(cfg.LegacyPeerVersion); nerr != nil {
		log.Warnf("dupresctl: invalid legacy peer version %q, every peer treated as legacy: %v", cfg.LegacyPeerVersion, nerr)
	} else {
		orig.Negotiator = negotiator
	}
	orig.ClusterKey = cfg.ClusterKey
	fab.Register(types.RW, orig.Handler())

	done := make(chan struct{})
	var resultCode types.ResultCode
	cb := func(k types.RecordKey, code types.ResultCode) bool {
		resultCode = code
		close(done)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ProbeDeadline)
	defer cancel()

	if _, err := orig.Probe(ctx, key, types.Tid(time.Now().Unix()), cliOrigin{log: log}, peers, cfg.Policy, nil, nil, cfg.ProbeDeadline, cb); err != nil {
		fmt.Fprintf(os.Stderr, "dupresctl: probe failed: %v\n", err)
		os.Exit(1)
	}

	select {
	case <-done:
		fmt.Printf("probe complete: key=%s result=%s\n", key, resultCode)
	case <-ctx.Done():
		orig.Abandon(key)
		fmt.Fprintf(os.Stderr, "dupresctl: probe timed out waiting on %d peer(s)\n", len(peers))
		os.Exit(1)
	}
}

func runStats(log types.Logger) {
	// A CLI invocation only ever sees its own process's table, which is
	// always empty at startup; this subcommand exists for an operator
	// attaching a future RPC-backed table inspector, and reports the
	// shape of that output today.
	table := core.NewInflightTable()
	fmt.Printf("inflight requests: %d\n", table.Len())
	_ = log
}
