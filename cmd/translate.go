package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"

	"firestige.xyz/xlat/internal/config"
	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/core/decoder"
	"firestige.xyz/xlat/internal/log"
	"firestige.xyz/xlat/internal/metrics"
	"firestige.xyz/xlat/internal/pipeline"
	"firestige.xyz/xlat/internal/source/afpacket"
	"firestige.xyz/xlat/internal/source/file"
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate captured frames between IPv4 and IPv6",
	Long: `Translate every IPv4 frame to IPv6 and every IPv6 frame to IPv4.
Untranslatable frames are dropped and counted by reason.

Flags override the configuration file.

Examples:
  xlat translate -i v4.pcap -o v6.pcap                       # well-known prefix 64:ff9b::/96
  xlat translate -i in.pcapng -o out.pcapng --prefix 2001:db8:64::/96
  xlat translate -i in.pcap -o out.pcap --eam 192.0.2.0/24=2001:db8:aaaa::/120
  xlat translate --in-iface eth0 --out-iface eth1 --decrement-ttl`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := applyTranslateFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := log.Init(cfg.Log); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runTranslate(ctx, cfg, cmd.OutOrStdout())
	},
}

func init() {
	addTranslateFlags(translateCmd)
}

func addTranslateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("in", "i", "", "input capture file")
	f.StringP("out", "o", "", "output capture file")
	f.String("format", "", "output file format: pcap or pcapng (default from extension)")
	f.String("in-iface", "", "capture from this interface (AF_PACKET)")
	f.String("out-iface", "", "transmit on this interface (AF_PACKET)")
	f.String("prefix", "", "RFC 6052 translation prefix, \"none\" for explicit mappings only")
	f.StringSlice("eam", nil, "explicit address mapping ipv4-prefix=ipv6-prefix (repeatable)")
	f.Int("workers", 0, "parallel workers (0 = GOMAXPROCS)")
	f.Int("batch-size", 0, "frames per batch")
	f.Bool("decrement-ttl", false, "decrement TTL/hop limit like a router")
	f.Bool("allow-fragments", false, "translate fragments instead of dropping them")
	f.String("metrics", "", "serve Prometheus metrics on this address")
}

// applyTranslateFlags copies the flags set on the command line into cfg.
func applyTranslateFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}

	if f.Changed("in") {
		cfg.Input = config.EndpointConfig{Type: file.Name}
		str("in", &cfg.Input.Path)
	}
	if f.Changed("in-iface") {
		cfg.Input = config.EndpointConfig{Type: afpacket.Name}
		str("in-iface", &cfg.Input.AfPacket.Device)
	}
	if f.Changed("out") {
		cfg.Output = config.EndpointConfig{Type: file.Name}
		str("out", &cfg.Output.Path)
	}
	str("format", &cfg.Output.Format)
	if f.Changed("out-iface") {
		cfg.Output = config.EndpointConfig{Type: afpacket.Name}
		str("out-iface", &cfg.Output.AfPacket.Device)
	}

	if f.Changed("prefix") {
		s, _ := f.GetString("prefix")
		cfg.Translator.Prefix = netip.Prefix{}
		if s != "none" {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return fmt.Errorf("%w: --prefix: %v", core.ErrConfigInvalid, err)
			}
			cfg.Translator.Prefix = p
		}
	}
	if f.Changed("eam") {
		entries, _ := f.GetStringSlice("eam")
		cfg.Translator.EAM = cfg.Translator.EAM[:0]
		for _, s := range entries {
			e, err := parseEAM(s)
			if err != nil {
				return err
			}
			cfg.Translator.EAM = append(cfg.Translator.EAM, e)
		}
	}
	if f.Changed("workers") {
		cfg.Pipeline.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("batch-size") {
		cfg.Pipeline.BatchSize, _ = f.GetInt("batch-size")
	}
	if f.Changed("decrement-ttl") {
		cfg.Translator.DecrementTTL, _ = f.GetBool("decrement-ttl")
	}
	if f.Changed("allow-fragments") {
		cfg.Translator.AllowFragments, _ = f.GetBool("allow-fragments")
	}
	if f.Changed("metrics") {
		cfg.Metrics.Enabled = true
		str("metrics", &cfg.Metrics.Listen)
	}
	return nil
}

func parseEAM(s string) (config.EAMConfig, error) {
	v4, v6, ok := strings.Cut(s, "=")
	if !ok {
		return config.EAMConfig{}, fmt.Errorf("%w: --eam %q: want ipv4-prefix=ipv6-prefix", core.ErrConfigInvalid, s)
	}
	p4, err := netip.ParsePrefix(strings.TrimSpace(v4))
	if err != nil {
		return config.EAMConfig{}, fmt.Errorf("%w: --eam %q: %v", core.ErrConfigInvalid, s, err)
	}
	p6, err := netip.ParsePrefix(strings.TrimSpace(v6))
	if err != nil {
		return config.EAMConfig{}, fmt.Errorf("%w: --eam %q: %v", core.ErrConfigInvalid, s, err)
	}
	return config.EAMConfig{IPv4: p4, IPv6: p6}, nil
}

// runTranslate wires source, pipeline and sink and runs until the input
// ends or ctx is cancelled. A summary is written to out.
func runTranslate(ctx context.Context, cfg *config.Config, out io.Writer) (err error) {
	if cfg.Input.IsZero() {
		return fmt.Errorf("%w: no input; use --in, --in-iface or input in the config", core.ErrConfigInvalid)
	}
	if cfg.Output.IsZero() {
		return fmt.Errorf("%w: no output; use --out, --out-iface or output in the config", core.ErrConfigInvalid)
	}
	if cfg.Input.Type == afpacket.Name && cfg.Output.Type == afpacket.Name &&
		cfg.Input.AfPacket.Device == cfg.Output.AfPacket.Device {
		return fmt.Errorf("%w: input and output interface are both %s", core.ErrConfigInvalid, cfg.Input.AfPacket.Device)
	}

	mapper, err := cfg.Translator.Mapper()
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop(context.Background())
	}

	src, closeSrc, err := openSource(cfg.Input)
	if err != nil {
		return err
	}
	defer closeSrc.Close()

	sink, closeSink, err := openSink(cfg.Output, decoder.OutputLink(src.LinkType()))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeSink.Close(); err == nil {
			err = cerr
		}
	}()

	workers := cfg.Pipeline.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := pipeline.NewBuilder().
		WithSource(src).
		WithSink(sink).
		WithMapper(mapper).
		WithOptions(cfg.Translator.Options()).
		WithWorkers(workers).
		WithBatchSize(cfg.Pipeline.BatchSize).
		WithHeadroom(cfg.Pipeline.Headroom).
		WithDropLog(cfg.Pipeline.DropLog.Limiter()).
		Build()

	runErr := p.Run(ctx)
	s := p.Stats()
	fmt.Fprintf(out, "received %d, translated %d (4to6 %d, 6to4 %d), dropped %d, written %d\n",
		s.Received, s.Translated, s.V4ToV6, s.V6ToV4, s.Dropped, s.Written)
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func openSource(e config.EndpointConfig) (pipeline.Source, io.Closer, error) {
	switch e.Type {
	case afpacket.Name:
		h, err := afpacket.Open(e.AfPacket)
		if err != nil {
			return nil, nil, err
		}
		return h, h, nil
	default:
		r, err := file.Open(e.Path)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	}
}

func openSink(e config.EndpointConfig, link layers.LinkType) (pipeline.Sink, io.Closer, error) {
	switch e.Type {
	case afpacket.Name:
		if link != layers.LinkTypeEthernet {
			return nil, nil, fmt.Errorf("%w: interface output needs Ethernet frames, input is %s", core.ErrConfigInvalid, link)
		}
		h, err := afpacket.Open(e.AfPacket)
		if err != nil {
			return nil, nil, err
		}
		return h, h, nil
	default:
		w, err := file.Create(e.Path, e.FileFormat(), link)
		if err != nil {
			return nil, nil, err
		}
		return w, w, nil
	}
}
