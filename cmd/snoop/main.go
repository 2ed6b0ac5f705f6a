// Command snoop is an ad hoc diagnostic packet logger: it prints one
// L3/L4 summary line per packet seen on an interface, optionally inside
// a named network namespace, bounded by a packet count and a duration.
// It has no role in any pass/fail decision.
package main

import (
	"context"
	"flag"
	"time"

	resilinet "github.com/Bhavya700/ResiliNet-Harness"
	"github.com/apex/log"
)

func main() {
	ifname := flag.String("i", "", "interface to sniff on")
	namespace := flag.String("ns", "", "optional network namespace to sniff in")
	maxPackets := flag.Int("max", resilinet.DefaultSnifferMaxPackets, "maximum number of packets to log")
	pcapFile := flag.String("pcap", "", "optional pcap file to also write packets to")
	duration := flag.Duration("duration", 30*time.Second, "how long to sniff")
	flag.Parse()

	log.SetLevel(log.DebugLevel)
	if *ifname == "" {
		log.Fatal("the -i flag is mandatory")
	}

	sniffer := resilinet.NewSniffer(&resilinet.SnifferConfig{
		InterfaceName: *ifname,
		MaxPackets:    *maxPackets,
		PCAPFile:      *pcapFile,
	}, log.Log)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	if *namespace == "" {
		if err := sniffer.Run(ctx); err != nil {
			log.WithError(err).Fatal("sniffer failed")
		}
		return
	}

	// sniffing inside a node requires entering its namespace, which
	// only the executor may do
	executor := resilinet.NewExecutor(log.Log)
	result := executor.Run(*namespace, func(ready func()) (any, error) {
		ready()
		return nil, sniffer.Run(ctx)
	})
	if result.Failed() {
		log.WithError(result.Err).Fatal("sniffer failed")
	}
}
