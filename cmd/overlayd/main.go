// Command overlayd runs one mesh node: it binds a raw socket to a wired
// interface, attaches a tap device for host traffic, and bridges the two
// through either RSU or OBU dispatch, depending on --node-type.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	golog "github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/fieldmesh/overlay/clientcache"
	"github.com/fieldmesh/overlay/config"
	"github.com/fieldmesh/overlay/crypto"
	"github.com/fieldmesh/overlay/device"
	"github.com/fieldmesh/overlay/logging"
	"github.com/fieldmesh/overlay/metrics"
	"github.com/fieldmesh/overlay/node"
	"github.com/fieldmesh/overlay/routing"
	"github.com/fieldmesh/overlay/statusserver"
	"github.com/fieldmesh/overlay/tap"
	"github.com/fieldmesh/overlay/transmit"
	"github.com/fieldmesh/overlay/wire"
)

var log *golog.Logger

func main() {
	app := &cli.App{
		Name:  "overlayd",
		Usage: "run a vehicular mesh overlay node",
		Flags: config.Flags,
		Action: func(c *cli.Context) error {
			cfg, err := config.FromContext(c)
			if err != nil {
				return err
			}
			level, err := golog.LogLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("overlayd: %w", err)
			}
			log = logging.Setup("overlayd", level, cfg.UseSyslog)
			return run(cfg)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "overlayd:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	defer func() {
		if x := recover(); x != nil {
			log.Error(fmt.Sprintf("run time panic: %v", x))
			log.Error(string(debug.Stack()))
			panic(x)
		}
	}()

	dev, err := device.Open(cfg.Bind)
	if err != nil {
		return fmt.Errorf("overlayd: %w", err)
	}
	defer dev.Close()

	tapDev, err := tap.Open(cfg.TapName)
	if err != nil {
		return fmt.Errorf("overlayd: %w", err)
	}
	defer tapDev.Close()

	if err := configureTap(tapDev.Name(), cfg.IP, cfg.MTU); err != nil {
		log.Warning("configuring tap interface:", err)
	}

	self := net.HardwareAddr(dev.HardwareAddr())

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var cipher *crypto.Cipher
	if cfg.EnableEncryption {
		cipher, err = crypto.New(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("overlayd: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	snap := &snapshotter{nodeType: string(cfg.NodeType), self: self.String()}

	switch cfg.NodeType {
	case config.NodeTypeRSU:
		r, err := routing.NewRSU(self, cfg.HelloHistory, m)
		if err != nil {
			return fmt.Errorf("overlayd: %w", err)
		}
		cache := clientcache.New()
		n := node.NewRSUNode(self, r, cache, cipher, m, log)
		snap.rsu, snap.cache = r, cache

		wg.Add(3)
		go func() { defer wg.Done(); runWireLoop(ctx, dev, tapDev, nil, n.HandleWire) }()
		go func() { defer wg.Done(); runTapLoop(ctx, tapDev, dev, nil, n.HandleTapFrame) }()
		go func() {
			defer wg.Done()
			n.RunHeartbeat(ctx, time.Duration(cfg.HelloPeriodicity)*time.Second, bootTime, func(frame []byte) error {
				return dev.WriteFrame(ctx, frame)
			})
		}()

	case config.NodeTypeOBU:
		r := routing.NewOBU(self, cfg.HelloHistory, cfg.CachedCandidates, m)
		n := node.NewOBUNode(self, r, cipher, m, log)
		snap.obu = r

		wg.Add(3)
		go func() { defer wg.Done(); runWireLoop(ctx, dev, tapDev, r, n.HandleWire) }()
		go func() { defer wg.Done(); runTapLoop(ctx, tapDev, dev, r, n.HandleTapFrame) }()
		go func() {
			defer wg.Done()
			n.RunSessionRefresh(ctx, func(frame []byte) error {
				return dev.WriteFrame(ctx, frame)
			})
		}()
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error("metrics server:", err)
			}
		}()
	}

	statusLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Warning("status server unavailable:", err)
	} else {
		srv := statusserver.New(snap, log)
		log.Noticef("status server listening on %s", statusLn.Addr())
		go func() {
			if err := srv.Serve(statusLn); err != nil {
				log.Error("status server:", err)
			}
		}()
	}

	log.Noticef("overlayd launched as %s %s, bound to %s", cfg.NodeType, self, cfg.Bind)

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM)
	sig, ok := <-stopSignal
	if ok {
		log.Notice("stopping with signal", sig)
	}
	cancel()
	wg.Wait()
	return nil
}

// dispatcher is implemented by both node.OBUNode and node.RSUNode.
type dispatcher func(msg *wire.Message, from net.HardwareAddr, nowMs uint64) ([]node.Reply, error)

// tapDispatcher is implemented by both node.OBUNode and node.RSUNode.
type tapDispatcher func(frame []byte) ([]node.Reply, error)

var bootTime = time.Now()

// runWireLoop reads raw frames off the wire interface, parses and
// dispatches them, and flushes the resulting replies to the wire or tap
// sink in one batch per inbound frame. obu is non-nil only for an OBU
// node, letting flushReplies trigger its upstream failover on a wire
// write error; an RSU has no upstream to fail over.
func runWireLoop(ctx context.Context, dev device.Device, tapDev tap.Interface, obu *routing.OBU, handle dispatcher) {
	buf := make([]byte, 65536)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := dev.ReadFrame(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		msg, err := wire.Parse(buf[:n])
		if err != nil {
			log.Debug("dropping unparseable wire frame:", err)
			continue
		}
		nowMs := uint64(time.Since(bootTime).Milliseconds())
		replies, err := handle(msg, msg.From, nowMs)
		if err != nil {
			log.Warning("dispatching wire frame:", err)
			continue
		}
		flushReplies(ctx, dev, tapDev, obu, replies)
	}
}

// runTapLoop reads whole Ethernet frames off the host tap device and
// dispatches each as traffic newly entering the mesh.
func runTapLoop(ctx context.Context, tapDev tap.Interface, dev device.Device, obu *routing.OBU, handle tapDispatcher) {
	buf := make([]byte, 65536)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := tapDev.ReadFrame(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		replies, err := handle(append([]byte(nil), buf[:n]...))
		if err != nil {
			log.Warning("dispatching tap frame:", err)
			continue
		}
		flushReplies(ctx, dev, tapDev, obu, replies)
	}
}

// flushReplies writes every queued reply to its sink. A failed wire
// flush that carried a frame addressed to the cached upstream promotes
// the next cached-upstream candidate (when obu is non-nil) so the next
// reply to go out targets a different next hop, the same failover spec
// §4.E requires of a direct send.
func flushReplies(ctx context.Context, dev device.Device, tapDev tap.Interface, obu *routing.OBU, replies []node.Reply) {
	wireBatch := transmit.NewBatch(dev)
	for _, r := range replies {
		switch r.Kind {
		case node.ReplyWire:
			wireBatch.Add(r.Frame)
		case node.ReplyTap:
			if err := tapDev.WriteFrame(ctx, r.Frame); err != nil {
				log.Warning("writing tap frame:", err)
			}
		}
	}
	if wireBatch.Len() > 0 {
		if err := wireBatch.Flush(ctx); err != nil {
			log.Warning("flushing wire frames:", err)
			if obu != nil {
				if upstream, ok := obu.GetCachedUpstream(); ok {
					for _, r := range replies {
						if r.Kind == node.ReplyWire && len(r.Frame) >= 6 && string(r.Frame[0:6]) == string(upstream) {
							obu.Failover()
							break
						}
					}
				}
			}
		}
	}
}

// configureTap assigns ip (when set) and the mtu to the named interface
// and brings it up, shelling out to the system's ip(8) the way a host
// network namespace is normally configured outside of Go.
func configureTap(name, ip string, mtu int) error {
	if ip != "" {
		if out, err := exec.Command("ip", "addr", "add", ip, "dev", name).CombinedOutput(); err != nil {
			return fmt.Errorf("ip addr add: %w: %s", err, out)
		}
	}
	if mtu > 0 {
		if out, err := exec.Command("ip", "link", "set", name, "mtu", fmt.Sprint(mtu)).CombinedOutput(); err != nil {
			return fmt.Errorf("ip link set mtu: %w: %s", err, out)
		}
	}
	if out, err := exec.Command("ip", "link", "set", name, "up").CombinedOutput(); err != nil {
		return fmt.Errorf("ip link set up: %w: %s", err, out)
	}
	return nil
}

// snapshotter adapts routing/clientcache state into statusserver.Status.
type snapshotter struct {
	nodeType string
	self     string

	rsu   *routing.RSU
	obu   *routing.OBU
	cache *clientcache.Cache
}

func (s *snapshotter) Snapshot() statusserver.Status {
	status := statusserver.Status{NodeType: s.nodeType, Self: s.self}
	if s.obu != nil {
		if upstream, ok := s.obu.GetCachedUpstream(); ok {
			status.CachedUpstream = upstream.String()
		}
		status.RSUTableSizes = s.obu.RSUTableSizes()
	}
	if s.cache != nil {
		status.ClientCount = s.cache.Len()
	}
	return status
}
