// Command resilinet builds an ephemeral two-node topology, optionally
// impairs the client's egress link, and verifies protocol behavior
// across the link, printing PASS, FAIL, or ERROR.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	resilinet "github.com/Bhavya700/ResiliNet-Harness"
	"github.com/Bhavya700/ResiliNet-Harness/cmd/internal/optional"
	"github.com/apex/log"
	"github.com/spf13/viper"
)

// settings are the harness settings, overridable from the environment.
type settings struct {
	clientNode    string
	serverNode    string
	clientAddress string
	serverAddress string
	serverPort    uint16
	payloadSize   int
	timeout       time.Duration
}

// loadSettings reads the harness settings, each overridable through a
// RESILINET_-prefixed environment variable.
func loadSettings() *settings {
	viper.SetEnvPrefix("resilinet")
	viper.AutomaticEnv()
	viper.SetDefault("client_node", "client")
	viper.SetDefault("server_node", "server")
	viper.SetDefault("client_addr", "10.0.0.1")
	viper.SetDefault("server_addr", "10.0.0.2")
	viper.SetDefault("server_port", 80)
	viper.SetDefault("payload_size", 2000)
	viper.SetDefault("timeout", resilinet.DefaultCaptureTimeout)
	return &settings{
		clientNode:    viper.GetString("client_node"),
		serverNode:    viper.GetString("server_node"),
		clientAddress: viper.GetString("client_addr"),
		serverAddress: viper.GetString("server_addr"),
		serverPort:    uint16(viper.GetInt("server_port")),
		payloadSize:   viper.GetInt("payload_size"),
		timeout:       viper.GetDuration("timeout"),
	}
}

// profileByName maps a named impairment profile onto its fixed value.
func profileByName(name string) (resilinet.ImpairmentProfile, error) {
	switch name {
	case "latency":
		return resilinet.ImpairmentProfile{
			Delay:  100 * time.Millisecond,
			Jitter: 20 * time.Millisecond,
		}, nil
	case "loss":
		return resilinet.ImpairmentProfile{LossPercent: 5}, nil
	case "reorder":
		// no explicit delay: the controller substitutes the documented
		// floor delay that makes reordering observable
		return resilinet.ImpairmentProfile{ReorderPercent: 10}, nil
	case "none":
		return resilinet.ImpairmentProfile{}, nil
	default:
		return resilinet.ImpairmentProfile{}, fmt.Errorf("unknown profile %q", name)
	}
}

func main() {
	profileName := flag.String("profile", "latency", "impairment profile: latency, loss, reorder, or none")
	fragcheck := flag.Bool("fragcheck", false, "also verify IP fragmentation of an oversized ICMP echo")
	pcapFile := flag.String("pcap", "", "optional pcap file for a diagnostic capture on the server endpoint")
	verbose := flag.Bool("verbose", false, "emit debug logs")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	pcap := optional.None[string]()
	if *pcapFile != "" {
		pcap = optional.Some(*pcapFile)
	}

	profile, err := profileByName(*profileName)
	if err != nil {
		fmt.Printf("ERROR: %s\n", err.Error())
		os.Exit(2)
	}

	verdicts, err := run(loadSettings(), profile, *fragcheck, pcap)
	if err != nil {
		fmt.Printf("ERROR: %s\n", err.Error())
		os.Exit(2)
	}
	code := 0
	for _, verdict := range verdicts {
		if verdict.Passed() {
			fmt.Printf("PASS: %s\n", verdict.Assertion)
			continue
		}
		fmt.Printf("FAIL: %s: %s\n", verdict.Assertion, verdict.Reason.Error())
		code = 1
	}
	os.Exit(code)
}

// run sets up the topology, applies the profile, and drives the
// assertions. Errors returned here are process-level crashes (setup
// failures), distinct from assertion verdicts; the topology is cleaned
// up before returning either way.
func run(
	cfg *settings,
	profile resilinet.ImpairmentProfile,
	fragcheck bool,
	pcap optional.Value[string],
) ([]*resilinet.Verdict, error) {
	ctl := resilinet.NewNetlinkControl(log.Log)
	topo, err := resilinet.NewClientServerTopology(
		ctl, log.Log,
		cfg.clientNode, cfg.serverNode,
		cfg.clientAddress, cfg.serverAddress,
	)
	if err != nil {
		return nil, err
	}
	defer topo.Close()

	controller := resilinet.NewImpairmentController(ctl, log.Log)
	if _, err := controller.Apply(topo.ClientEndpoint, profile); err != nil {
		return nil, err
	}

	executor := resilinet.NewExecutor(log.Log)
	validator := resilinet.NewProtocolValidator(executor, log.Log)

	// fire-and-forget diagnostic capture; it plays no role in pass/fail
	var snoop *resilinet.PendingJob
	if !pcap.Empty() {
		sniffer := resilinet.NewSniffer(&resilinet.SnifferConfig{
			InterfaceName: topo.ServerEndpoint.InterfaceName,
			PCAPFile:      pcap.Unwrap(),
		}, log.Log)
		snoop, err = executor.Submit(topo.Server.Name, func(ready func()) (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
			defer cancel()
			ready()
			return nil, sniffer.Run(ctx)
		})
		if err != nil {
			log.WithError(err).Warn("cannot start diagnostic capture")
		}
	}

	verdicts := []*resilinet.Verdict{}
	handshake, err := resilinet.HandshakeAssertion(topo, cfg.serverPort, cfg.timeout, log.Log)
	if err != nil {
		return nil, err
	}
	verdicts = append(verdicts, validator.RunAssertion(handshake))

	if fragcheck {
		fragmentation, err := resilinet.FragmentationAssertion(topo, cfg.payloadSize, cfg.timeout, log.Log)
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, validator.RunAssertion(fragmentation))
	}

	if snoop != nil {
		select {
		case result := <-snoop.Done():
			if result.Failed() {
				log.Warnf("diagnostic capture: %s", result.Err.Error())
			}
		case <-time.After(cfg.timeout + time.Second):
			log.Warn("diagnostic capture still running, abandoning it")
		}
	}
	return verdicts, nil
}
