package seeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/ruteri/nodelist-registry/interfaces"
)

// ErrNoSeeds is returned when a domain publishes no usable boot node for the chain.
var ErrNoSeeds = errors.New("no seed boot nodes found")

const (
	defaultServer = "127.0.0.53:53"

	// ednsBufferSize is the UDP payload size advertised with EDNS0.
	ednsBufferSize = 4096
)

// Resolver looks up boot nodes in DNS TXT records. Queries go over UDP and
// are retried over TCP when the answer is truncated.
type Resolver struct {
	server string
	client *dns.Client
	tcp    *dns.Client
	log    *slog.Logger
}

// NewResolver creates a resolver querying server ("host:port"). An empty
// server uses the first nameserver from /etc/resolv.conf, falling back to the
// local stub resolver.
func NewResolver(server string, log *slog.Logger) *Resolver {
	if server == "" {
		server = systemServer()
	}
	return &Resolver{
		server: server,
		client: &dns.Client{Timeout: 5 * time.Second},
		tcp:    &dns.Client{Net: "tcp", Timeout: 5 * time.Second},
		log:    log,
	}
}

func systemServer() string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return defaultServer
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}

// Lookup returns the boot nodes published at domain for chain, in record
// order with duplicates removed. Malformed records are skipped.
func (r *Resolver) Lookup(ctx context.Context, domain string, chain interfaces.ChainID) ([]interfaces.BootNode, error) {
	records, err := r.txt(ctx, domain)
	if err != nil {
		return nil, err
	}

	var (
		nodes []interfaces.BootNode
		seen  = make(map[interfaces.BootNode]bool)
	)
	for _, record := range records {
		node, recordChain, err := parseRecord(record)
		if err != nil {
			r.log.Warn("Skipping malformed seed record", "domain", domain, "record", record, "err", err)
			continue
		}
		if recordChain != "" && recordChain != chain {
			continue
		}
		if seen[node] {
			continue
		}
		seen[node] = true
		nodes = append(nodes, node)
	}

	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s for chain %s", ErrNoSeeds, domain, chain)
	}

	r.log.Debug("Discovered seed boot nodes", "domain", domain, "chainId", chain.String(), "count", len(nodes))
	return nodes, nil
}

func (r *Resolver) txt(ctx context.Context, domain string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)
	m.RecursionDesired = true
	m.SetEdns0(ednsBufferSize, false)

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err == nil && in.Truncated {
		r.log.Debug("Truncated TXT answer, retrying over TCP", "domain", domain, "server", r.server)
		in, _, err = r.tcp.ExchangeContext(ctx, m, r.server)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %v", interfaces.ErrTransport, r.server, err)
	}
	if in.Rcode == dns.RcodeNameError {
		return nil, fmt.Errorf("%w: %s does not exist", ErrNoSeeds, domain)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%w: %s answered %s", interfaces.ErrTransport, r.server, dns.RcodeToString[in.Rcode])
	}

	records := make([]string, 0, len(in.Answer))
	for _, answer := range in.Answer {
		if txt, ok := answer.(*dns.TXT); ok {
			// Long records are split into 255-byte strings.
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}
	return records, nil
}

// parseRecord parses "[<chain id> ]<address>:<url>".
func parseRecord(record string) (interfaces.BootNode, interfaces.ChainID, error) {
	var chain interfaces.ChainID
	fields := strings.Fields(record)
	switch len(fields) {
	case 1:
	case 2:
		parsed, err := interfaces.NewChainID(fields[0])
		if err != nil {
			return interfaces.BootNode{}, "", err
		}
		chain = parsed
	default:
		return interfaces.BootNode{}, "", fmt.Errorf("unexpected record format")
	}

	node, err := interfaces.ParseBootNode(fields[len(fields)-1])
	if err != nil {
		return interfaces.BootNode{}, "", err
	}
	return node, chain, nil
}
